// Package transport is a reference HTTP instruction-dispatch adapter:
// it exposes store/retrieve/discard as routed handlers calling directly
// into a storage.Pool, and is never imported by the storage or
// aggregator packages themselves. A deployment that has no network
// surface simply never imports this package.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	stdlog "log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sndnv/syn-storage/internal/bufpool"
	"github.com/sndnv/syn-storage/logger"
	"github.com/sndnv/syn-storage/storage"
)

// Server routes HTTP requests onto a single storage.Pool (which may be
// a *aggregator.Aggregator, a memory.Pool, or a binary.DiskPool; the
// handler only depends on the contract).
type Server struct {
	pool   storage.Pool
	router *mux.Router
}

// NewServer builds a Server dispatching onto pool, with routes mounted
// under /v1.
func NewServer(pool storage.Pool) *Server {
	s := &Server{pool: pool, router: mux.NewRouter()}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/entities", s.handleStore).Methods("POST")
	api.HandleFunc("/entities/{id}", s.handleRetrieve).Methods("GET")
	api.HandleFunc("/entities/{id}", s.handleDiscard).Methods("DELETE")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ErrorLog returns a *log.Logger suitable for http.Server.ErrorLog,
// routed through the engine's own logger.
func (s *Server) ErrorLog() *stdlog.Logger {
	return logger.SetHTTPServerErrorLog()
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	id, err := s.pool.Store(data)
	if err != nil {
		respondPoolError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]uint32{"id": uint32(id)})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEntityID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid entity id")
		return
	}

	data, err := s.pool.Retrieve(id)
	if err != nil {
		respondPoolError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEntityID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid entity id")
		return
	}

	erase := r.URL.Query().Get("erase") == "true"
	if err := s.pool.Discard(id, erase); err != nil {
		respondPoolError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"type":       s.pool.PoolType().String(),
		"state":      s.pool.State().String(),
		"mode":       s.pool.Mode().String(),
		"size":       uint64(s.pool.Size()),
		"free_space": uint64(s.pool.FreeSpace()),
		"entities":   s.pool.EntitiesCount(),
	})
}

func parseEntityID(r *http.Request) (storage.EntityID, bool) {
	raw, ok := mux.Vars(r)["id"]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return storage.EntityID(n), true
}

// respondJSON encodes payload into a pooled buffer before writing it, so
// a slow or disconnecting client does not hold the JSON encoder's own
// allocations for the life of the response.
func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	buf := bufpool.GetBuffer()
	defer bufpool.PutBuffer(buf)

	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		logger.Error("transport: failed to encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

func respondPoolError(w http.ResponseWriter, err error) {
	var perr *storage.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case storage.KindNotFound:
			respondError(w, http.StatusNotFound, err.Error())
			return
		case storage.KindReadOnly, storage.KindNotOpen:
			respondError(w, http.StatusConflict, err.Error())
			return
		case storage.KindOutOfSpace, storage.KindPlanFailure:
			respondError(w, http.StatusInsufficientStorage, err.Error())
			return
		case storage.KindUnsupportedOperation:
			respondError(w, http.StatusNotImplemented, err.Error())
			return
		}
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/sndnv/syn-storage/storage/memory"
)

func TestHandleStoreAndRetrieve(t *testing.T) {
	s := NewServer(memory.New(1024))
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/entities", "application/octet-stream", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var created struct {
		ID uint32 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decoding store response: %v", err)
	}

	getResp, err := http.Get(ts.URL + "/v1/entities/" + itoa(created.ID))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", getResp.StatusCode, http.StatusOK)
	}
}

func TestHandleRetrieveUnknownEntityReturns404(t *testing.T) {
	s := NewServer(memory.New(1024))
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/entities/999")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleDiscard(t *testing.T) {
	pool := memory.New(1024)
	id, err := pool.Store([]byte("bye"))
	if err != nil {
		t.Fatalf("priming Store: %v", err)
	}

	s := NewServer(pool)
	ts := httptest.NewServer(s)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/entities/"+itoa(uint32(id)), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	if _, err := pool.Retrieve(id); err == nil {
		t.Fatalf("entity still retrievable after DELETE")
	}
}

func TestHandleStatus(t *testing.T) {
	s := NewServer(memory.New(1024))
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status["size"].(float64) != 1024 {
		t.Fatalf("status size = %v, want 1024", status["size"])
	}
}

func TestHandleRetrieveRejectsNonNumericID(t *testing.T) {
	s := NewServer(memory.New(1024))
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/entities/not-a-number")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("GET status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func itoa(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}

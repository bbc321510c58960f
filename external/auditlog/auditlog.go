// Package auditlog is a reference implementation of the durable failure
// log the engine expects for asynchronous plan-execution and
// pending-action failures. It is database-backed (sqlite) rather than
// in-memory so failures survive a process restart long enough to be
// triaged.
package auditlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS failures (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id   INTEGER NOT NULL,
	operation   TEXT NOT NULL,
	source_pool TEXT,
	target_pool TEXT,
	message     TEXT NOT NULL,
	occurred_at DATETIME NOT NULL
);
`

// Failure is one recorded asynchronous failure.
type Failure struct {
	ID         int64
	EntityID   uint32
	Operation  string
	SourcePool string
	TargetPool string
	Message    string
	OccurredAt time.Time
}

// Logger records plan-execution and pending-action failures against a
// sqlite database, keyed by aggregator entity ID.
type Logger struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Logger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: applying schema: %w", err)
	}
	return &Logger{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Logger) Close() error {
	return l.db.Close()
}

// Record inserts a failure entry. sourcePool/targetPool may be empty
// when not applicable (e.g. a discard step has no target).
func (l *Logger) Record(entityID uint32, operation, sourcePool, targetPool, message string) error {
	_, err := l.db.Exec(
		`INSERT INTO failures (entity_id, operation, source_pool, target_pool, message, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entityID, operation, sourcePool, targetPool, message, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("auditlog: recording failure: %w", err)
	}
	return nil
}

// ForEntity returns every recorded failure for entityID, most recent
// first.
func (l *Logger) ForEntity(entityID uint32) ([]Failure, error) {
	rows, err := l.db.Query(
		`SELECT id, entity_id, operation, source_pool, target_pool, message, occurred_at
		 FROM failures WHERE entity_id = ? ORDER BY occurred_at DESC`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("auditlog: querying failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.EntityID, &f.Operation, &f.SourcePool, &f.TargetPool, &f.Message, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("auditlog: scanning failure row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

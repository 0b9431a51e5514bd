// Package store keeps loaded modules in a content-addressed SQLite database,
// together with a ledger of the runs made from them.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/bacvm/pkg/bytecode"
)

// ErrModuleNotFound indicates the requested digest is not stored.
var ErrModuleNotFound = errors.New("module not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS modules (
		digest     TEXT PRIMARY KEY,
		image      BLOB NOT NULL,
		summary    BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		digest        TEXT NOT NULL REFERENCES modules(digest),
		started_at    INTEGER NOT NULL,
		duration_ns   INTEGER NOT NULL,
		exit_code     INTEGER NOT NULL,
		error_kind    TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		steps         INTEGER NOT NULL,
		output_bytes  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_by_digest ON runs(digest, id)`,
}

// RunRecord is one entry of the run ledger.
type RunRecord struct {
	ID           int64
	Started      time.Time
	Duration     time.Duration
	ExitCode     int
	ErrorKind    string // empty on success
	ErrorMessage string
	Steps        uint64
	OutputBytes  int64
}

// Store handles SQLite storage for modules and runs.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	log  commonlog.Logger
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	s := &Store{db: db, path: path, log: commonlog.GetLogger("bacvm.store")}
	s.log.Debugf("opened store %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutModule stores m under the digest of its encoding. Storing the same
// module again is a no-op.
func (s *Store) PutModule(m *bytecode.Module) (Digest, error) {
	d, image, err := DigestOf(m)
	if err != nil {
		return Digest{}, err
	}
	summary, err := Summarize(m)
	if err != nil {
		return Digest{}, err
	}
	blob, err := EncodeSummary(summary)
	if err != nil {
		return Digest{}, fmt.Errorf("encoding summary: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO modules (digest, image, summary, created_at) VALUES (?, ?, ?, ?)",
		d.String(), image, blob, time.Now().UnixNano(),
	)
	if err != nil {
		return Digest{}, fmt.Errorf("saving module: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Infof("stored module %s (%d bytes)", d.Short(), len(image))
	}
	return d, nil
}

// GetModule loads the module stored under d.
func (s *Store) GetModule(d Digest) (*bytecode.Module, error) {
	var image []byte
	err := s.db.QueryRow("SELECT image FROM modules WHERE digest = ?", d.String()).Scan(&image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, d)
	}
	if err != nil {
		return nil, fmt.Errorf("loading module: %w", err)
	}
	return bytecode.Decode(image)
}

// HasModule reports whether d is stored.
func (s *Store) HasModule(d Digest) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM modules WHERE digest = ?", d.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking module: %w", err)
	}
	return n > 0, nil
}

// Summary returns the stored summary of d.
func (s *Store) Summary(d Digest) (*Summary, error) {
	var blob []byte
	err := s.db.QueryRow("SELECT summary FROM modules WHERE digest = ?", d.String()).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, d)
	}
	if err != nil {
		return nil, fmt.Errorf("loading summary: %w", err)
	}
	return DecodeSummary(blob)
}

// Modules returns every stored digest, oldest first.
func (s *Store) Modules() ([]Digest, error) {
	rows, err := s.db.Query("SELECT digest FROM modules ORDER BY created_at, digest")
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var digests []Digest
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, fmt.Errorf("scanning module: %w", err)
		}
		d, err := ParseDigest(hex)
		if err != nil {
			return nil, err
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

// RecordRun appends a run of module d to the ledger and returns its id.
// The module must already be stored.
func (s *Store) RecordRun(d Digest, r RunRecord) (int64, error) {
	ok, err := s.HasModule(d)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrModuleNotFound, d)
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO runs (digest, started_at, duration_ns, exit_code, error_kind, error_message, steps, output_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.String(), r.Started.UnixNano(), int64(r.Duration), r.ExitCode,
		r.ErrorKind, r.ErrorMessage, int64(r.Steps), r.OutputBytes,
	)
	if err != nil {
		return 0, fmt.Errorf("recording run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("recording run: %w", err)
	}
	s.log.Debugf("recorded run %d of %s: exit=%d steps=%d", id, d.Short(), r.ExitCode, r.Steps)
	return id, nil
}

// Runs lists the runs of module d in the order they were recorded.
func (s *Store) Runs(d Digest) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, duration_ns, exit_code, error_kind, error_message, steps, output_bytes
		 FROM runs WHERE digest = ? ORDER BY id`,
		d.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r        RunRecord
			started  int64
			duration int64
			steps    int64
		)
		if err := rows.Scan(&r.ID, &started, &duration, &r.ExitCode,
			&r.ErrorKind, &r.ErrorMessage, &steps, &r.OutputBytes); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Started = time.Unix(0, started)
		r.Duration = time.Duration(duration)
		r.Steps = uint64(steps)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Package indexdb keeps a queryable sqlite index of handled inference
// requests. It is a secondary artifact next to the JSONL records: writes are
// asynchronous and dropped under backpressure rather than stalling the
// serving path.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan stepRow
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type stepRow struct {
	Step        uint64
	InferenceMS float64
	Limbs       []string
	RecordedAt  string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Inference runs a few Hz at most; the buffer only needs to ride
		// out commit latency.
		ch: make(chan stepRow, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			step INTEGER PRIMARY KEY,
			inference_ms REAL NOT NULL,
			limbs_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_recorded_at ON steps(recorded_at);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordStep satisfies policy.StepIndex. Never blocks; rows are dropped if
// the writer falls behind.
func (s *SQLiteIndex) RecordStep(step uint64, inferenceMS float64, limbs []string) {
	if s == nil || s.closed.Load() {
		return
	}
	sorted := append([]string(nil), limbs...)
	sort.Strings(sorted)
	r := stepRow{
		Step:        step,
		InferenceMS: inferenceMS,
		Limbs:       sorted,
		RecordedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many rows were discarded under backpressure.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// StepCount reads the row count, for health reporting and tests.
func (s *SQLiteIndex) StepCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM steps`).Scan(&n)
	return n, err
}

// SlowestSteps returns up to limit steps ordered by inference time,
// slowest first.
func (s *SQLiteIndex) SlowestSteps(limit int) ([]uint64, error) {
	rows, err := s.db.Query(`SELECT step FROM steps ORDER BY inference_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var step int64
		if err := rows.Scan(&step); err != nil {
			return nil, err
		}
		out = append(out, uint64(step))
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStep, err := s.db.Prepare(`INSERT OR REPLACE INTO steps(step,inference_ms,limbs_json,recorded_at) VALUES(?,?,?,?)`)
	if err != nil {
		for range s.ch {
		}
		return
	}
	defer insertStep.Close()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		limbs, _ := json.Marshal(r.Limbs)
		if _, err := tx.Stmt(insertStep).Exec(int64(r.Step), r.InferenceMS, string(limbs), r.RecordedAt); err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

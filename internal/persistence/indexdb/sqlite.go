// Package indexdb maintains a queryable SQLite index of the simulation:
// the event stream, per-tick balance digests and auction cycle outcomes.
// The JSONL event logs remain the source of truth; the index may drop
// writes under pressure.
package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"scripcraft.ai/internal/sim/kernel"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders channel sends against Close: senders hold the read lock
	// so the channel can never be closed between their closed-check and
	// the send.
	mu     sync.RWMutex
	closed bool
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqBalance
	reqCycle
	reqFlush
)

type req struct {
	kind reqKind

	event   kernel.Entry
	balance balanceRow
	cycle   CycleRow
	done    chan struct{}
}

type balanceRow struct {
	Tick      uint64
	Principal string
	Scrip     string
}

type CycleRow struct {
	Cycle    uint64
	Tick     uint64
	Winner   string
	Artifact string
	Price    string
	Score    int64
	Minted   string
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
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads; NORMAL is a decent
	// durability/perf tradeoff for a secondary index.
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
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY,
			tick INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_tick ON events(type, tick);`,
		`CREATE TABLE IF NOT EXISTS balances (
			tick INTEGER NOT NULL,
			principal TEXT NOT NULL,
			scrip TEXT NOT NULL,
			PRIMARY KEY (tick, principal)
		);`,
		`CREATE TABLE IF NOT EXISTS cycles (
			cycle INTEGER PRIMARY KEY,
			tick INTEGER NOT NULL,
			winner TEXT NOT NULL,
			artifact TEXT NOT NULL,
			price TEXT NOT NULL,
			score INTEGER NOT NULL,
			minted TEXT NOT NULL
		);`,
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
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteEvent implements kernel.EventSink.
func (s *SQLiteIndex) WriteEvent(e kernel.Entry) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		// Drop if the indexer falls behind; JSONL remains authoritative.
	}
	return nil
}

func (s *SQLiteIndex) RecordBalance(tick uint64, principal, scripStr string) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- req{kind: reqBalance, balance: balanceRow{Tick: tick, Principal: principal, Scrip: scripStr}}:
	default:
	}
}

func (s *SQLiteIndex) RecordCycle(row CycleRow) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- req{kind: reqCycle, cycle: row}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqEvent:
			payload, err := json.Marshal(r.event.Payload)
			if err != nil {
				continue
			}
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO events (seq, tick, type, payload_json) VALUES (?, ?, ?, ?)`,
				r.event.Seq, r.event.Tick, r.event.Type, string(payload))
		case reqBalance:
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO balances (tick, principal, scrip) VALUES (?, ?, ?)`,
				r.balance.Tick, r.balance.Principal, r.balance.Scrip)
		case reqCycle:
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO cycles (cycle, tick, winner, artifact, price, score, minted) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.cycle.Cycle, r.cycle.Tick, r.cycle.Winner, r.cycle.Artifact,
				r.cycle.Price, r.cycle.Score, r.cycle.Minted)
		case reqFlush:
			close(r.done)
		}
	}
}

// Flush blocks until every write queued before the call has been applied.
func (s *SQLiteIndex) Flush() {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, done: done}
	<-done
}

// EventCount reports rows in the events table.
func (s *SQLiteIndex) EventCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// EventsByType returns (tick, payload) pairs for a type, ascending by seq.
func (s *SQLiteIndex) EventsByType(typ string) ([]kernel.Entry, error) {
	rows, err := s.db.Query(
		`SELECT seq, tick, type, payload_json FROM events WHERE type = ? ORDER BY seq`, typ)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kernel.Entry
	for rows.Next() {
		var e kernel.Entry
		var payload string
		if err := rows.Scan(&e.Seq, &e.Tick, &e.Type, &payload); err != nil {
			return nil, err
		}
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastCycle returns the most recent auction cycle row, or false if none.
func (s *SQLiteIndex) LastCycle() (CycleRow, bool, error) {
	var row CycleRow
	err := s.db.QueryRow(
		`SELECT cycle, tick, winner, artifact, price, score, minted FROM cycles ORDER BY cycle DESC LIMIT 1`).
		Scan(&row.Cycle, &row.Tick, &row.Winner, &row.Artifact, &row.Price, &row.Score, &row.Minted)
	if err == sql.ErrNoRows {
		return row, false, nil
	}
	if err != nil {
		return row, false, err
	}
	return row, true, nil
}

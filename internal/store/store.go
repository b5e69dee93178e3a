// Package store persists flow snapshots so past and interrupted flows can be
// inspected after the process exits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/flow"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Kind  flow.Kind
	Step  flow.Step
	Owner string
	Limit int
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create flow store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create flow lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open flow sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS flows (
			flow_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			step TEXT NOT NULL,
			owner TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_flows_step_updated ON flows(step, updated_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_flows_owner_updated ON flows(owner, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init flow schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock flow store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock flow store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *Store) Save(state flow.State) error {
	if strings.TrimSpace(state.ID) == "" {
		return fmt.Errorf("save flow: missing flow id")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	created := unixOrNow(state.StartedAt)
	updated := unixOrNow(state.UpdatedAt)
	return s.withLock(func() error {
		_, err := s.db.Exec(`
			INSERT INTO flows (flow_id, kind, step, owner, chain_id, created_at, updated_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(flow_id) DO UPDATE SET
				step=excluded.step,
				updated_at=excluded.updated_at,
				payload=excluded.payload
		`, state.ID, string(state.Kind), string(state.Step), strings.ToLower(state.Owner), state.ChainID, created, updated, payload)
		if err != nil {
			return fmt.Errorf("save flow: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(id string) (flow.State, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM flows WHERE flow_id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return flow.State{}, clierr.New(clierr.CodeUsage, "flow not found: "+id)
		}
		return flow.State{}, fmt.Errorf("read flow: %w", err)
	}
	var state flow.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return flow.State{}, fmt.Errorf("decode flow payload: %w", err)
	}
	return state, nil
}

func (s *Store) List(f Filter) ([]flow.State, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Step != "" {
		where = append(where, "step = ?")
		args = append(args, string(f.Step))
	}
	if f.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, strings.ToLower(f.Owner))
	}
	q := "SELECT payload FROM flows"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	return scanStates(rows)
}

func scanStates(rows *sql.Rows) ([]flow.State, error) {
	defer rows.Close()
	flows := make([]flow.State, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan flow row: %w", err)
		}
		var state flow.State
		if err := json.Unmarshal(payload, &state); err != nil {
			return nil, fmt.Errorf("decode flow row: %w", err)
		}
		flows = append(flows, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow rows: %w", err)
	}
	return flows, nil
}

// MarkAbandoned resets records left in a non-terminal step and not updated
// since cutoff back to idle, flagging them abandoned. A half-finished
// transaction sequence is never resumed; AbandonedAt keeps the stall point.
// It returns how many records changed.
func (s *Store) MarkAbandoned(cutoff time.Time) (int, error) {
	rows, err := s.db.Query(
		"SELECT payload FROM flows WHERE step NOT IN (?, ?, ?) AND updated_at < ?",
		string(flow.StepComplete), string(flow.StepError), string(flow.StepIdle), cutoff.UTC().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("scan in-flight flows: %w", err)
	}
	stale, err := scanStates(rows)
	if err != nil {
		return 0, err
	}
	for _, state := range stale {
		state.AbandonedAt = state.Step
		state.Step = flow.StepIdle
		state.Abandoned = true
		state.TxHash = ""
		if err := s.Save(state); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Selection is what a user last picked for a flow kind.
type Selection struct {
	Kind    flow.Kind `json:"kind"`
	ChainID int64     `json:"chain_id"`
	Owner   string    `json:"owner"`
	Amount  string    `json:"amount,omitempty"`
}

// LastSelection returns the most recent selection for kind, if any.
func (s *Store) LastSelection(kind flow.Kind) (Selection, bool, error) {
	flows, err := s.List(Filter{Kind: kind, Limit: 1})
	if err != nil {
		return Selection{}, false, err
	}
	if len(flows) == 0 {
		return Selection{}, false, nil
	}
	last := flows[0]
	return Selection{Kind: last.Kind, ChainID: last.ChainID, Owner: last.Owner, Amount: last.Amount}, true, nil
}

// Sink records every published snapshot. Write failures are logged and do
// not interrupt the flow.
func (s *Store) Sink(logger *slog.Logger) flow.Sink {
	return flow.SinkFunc(func(state flow.State) {
		if state.ID == "" {
			return
		}
		if err := s.Save(state); err != nil {
			logger.Warn("persist flow snapshot", "flow_id", state.ID, "step", state.Step, "err", err)
		}
	})
}

func unixOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().UnixNano()
	}
	return t.UTC().UnixNano()
}

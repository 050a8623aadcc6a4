// Package store provides SQLite-backed persistence for dqmote experiments.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/dqmote/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrExperimentClosed indicates the experiment is no longer running.
var ErrExperimentClosed = errors.New("experiment not found or not running")

// Store provides access to the dqmote SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source TEXT NOT NULL,
		protocol TEXT NOT NULL,
		slots INTEGER NOT NULL,
		nodes INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		arp TEXT,
		arp_success INTEGER NOT NULL DEFAULT 0,
		arp_collision INTEGER NOT NULL DEFAULT 0,
		arp_empty INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		address INTEGER NOT NULL,
		rssi INTEGER NOT NULL,
		slot INTEGER NOT NULL,
		crq INTEGER NOT NULL,
		dtq INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		crq_wait INTEGER NOT NULL,
		dtq_wait INTEGER NOT NULL,
		raw TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (experiment_id) REFERENCES experiments(id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		experiment_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_experiment_seq ON rounds(experiment_id, seq);
	CREATE INDEX IF NOT EXISTS idx_events_experiment_id ON events(experiment_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Experiment Operations ---

// CreateExperiment inserts a running experiment.
func (s *Store) CreateExperiment(e models.Experiment) (*models.Experiment, error) {
	e.ID = uuid.New().String()
	e.Status = models.ExperimentStatusRunning
	e.StartedAt = time.Now().UTC()
	e.EndedAt = nil
	if e.Name == "" {
		e.Name = fmt.Sprintf("%s-%s", e.Protocol, e.ID[:8])
	}

	_, err := s.db.Exec(
		`INSERT INTO experiments (id, name, source, protocol, slots, nodes, duration, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Source, e.Protocol, e.Slots, e.Nodes, e.Duration, e.Status, e.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert experiment: %w", err)
	}
	return &e, nil
}

const experimentColumns = `id, name, source, protocol, slots, nodes, duration, status, error, started_at, ended_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExperiment(row scanner) (*models.Experiment, error) {
	var e models.Experiment
	var errText sql.NullString
	var endedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.Name, &e.Source, &e.Protocol, &e.Slots, &e.Nodes, &e.Duration, &e.Status, &errText, &e.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	if errText.Valid {
		e.Error = errText.String
	}
	if endedAt.Valid {
		e.EndedAt = &endedAt.Time
	}
	return &e, nil
}

// GetExperiment retrieves an experiment by ID. It returns nil when none exists.
func (s *Store) GetExperiment(id string) (*models.Experiment, error) {
	e, err := scanExperiment(s.db.QueryRow(`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query experiment: %w", err)
	}
	return e, nil
}

// ListExperiments returns all experiments, newest first, optionally filtered
// by status.
func (s *Store) ListExperiments(status string) ([]models.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query experiments: %w", err)
	}
	defer rows.Close()

	var experiments []models.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		experiments = append(experiments, *e)
	}
	return experiments, rows.Err()
}

// FinishExperiment closes a running experiment. A non-nil cause marks it
// failed.
func (s *Store) FinishExperiment(id string, cause error) error {
	status := models.ExperimentStatusFinished
	var errText sql.NullString
	if cause != nil {
		status = models.ExperimentStatusFailed
		errText = sql.NullString{String: cause.Error(), Valid: true}
	}
	result, err := s.db.Exec(
		`UPDATE experiments SET status = ?, error = ?, ended_at = ? WHERE id = ? AND status = ?`,
		status, errText, time.Now().UTC(), id, models.ExperimentStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrExperimentClosed
	}
	return nil
}

// --- Round Operations ---

// AddRounds appends rounds to a running experiment in a single transaction.
// IDs and timestamps are filled in place.
func (s *Store) AddRounds(experimentID string, rounds []models.Round) error {
	if len(rounds) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.ExperimentStatus
	err = tx.QueryRow(`SELECT status FROM experiments WHERE id = ?`, experimentID).Scan(&status)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query experiment: %w", err)
	}
	if err == sql.ErrNoRows || status != models.ExperimentStatusRunning {
		return ErrExperimentClosed
	}

	stmt, err := tx.Prepare(`INSERT INTO rounds (id, experiment_id, seq, protocol, arp, arp_success, arp_collision, arp_empty,
		data, address, rssi, slot, crq, dtq, attempts, crq_wait, dtq_wait, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare round insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range rounds {
		r := &rounds[i]
		r.ID = uuid.New().String()
		r.ExperimentID = experimentID
		r.CreatedAt = now

		var arp sql.NullString
		var success, collision, empty int
		if len(r.ARP) > 0 {
			data, _ := json.Marshal(r.ARP)
			arp = sql.NullString{String: string(data), Valid: true}
		}
		for _, a := range r.ARP {
			switch a {
			case "success":
				success++
			case "collision":
				collision++
			default:
				empty++
			}
		}

		_, err := stmt.Exec(r.ID, r.ExperimentID, r.Seq, r.Protocol, arp, success, collision, empty,
			r.Data, r.Address, r.RSSI, r.Slot, r.CRQ, r.DTQ, r.Attempts, r.CRQWait, r.DTQWait, r.Raw, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert round %d: %w", r.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListRounds returns rounds of an experiment in sequence order. A limit of
// zero returns everything after offset.
func (s *Store) ListRounds(experimentID string, offset, limit int) ([]models.Round, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, experiment_id, seq, protocol, arp, data, address, rssi, slot, crq, dtq, attempts, crq_wait, dtq_wait, raw, created_at
		 FROM rounds WHERE experiment_id = ? ORDER BY seq LIMIT ? OFFSET ?`,
		experimentID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.Round
	for rows.Next() {
		var r models.Round
		var arp, raw sql.NullString
		if err := rows.Scan(&r.ID, &r.ExperimentID, &r.Seq, &r.Protocol, &arp, &r.Data, &r.Address, &r.RSSI, &r.Slot,
			&r.CRQ, &r.DTQ, &r.Attempts, &r.CRQWait, &r.DTQWait, &raw, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if arp.Valid {
			json.Unmarshal([]byte(arp.String), &r.ARP)
		}
		if raw.Valid {
			r.Raw = raw.String
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// GetStats aggregates the rounds of an experiment.
func (s *Store) GetStats(experimentID string) (*models.Stats, error) {
	st := &models.Stats{ExperimentID: experimentID}
	var meanCRQ, meanDTQ sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(arp_success), 0), COALESCE(SUM(arp_collision), 0), COALESCE(SUM(arp_empty), 0),
			COALESCE(SUM(CASE WHEN data = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN data = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN data = 'empty' THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(crq), 0), COALESCE(MAX(dtq), 0), AVG(crq), AVG(dtq),
			COUNT(DISTINCT CASE WHEN data = 'success' THEN address END)
		 FROM rounds WHERE experiment_id = ?`,
		experimentID,
	).Scan(&st.Rounds, &st.ARPSuccess, &st.ARPCollision, &st.ARPEmpty,
		&st.DataSuccess, &st.DataError, &st.DataEmpty,
		&st.MaxCRQ, &st.MaxDTQ, &meanCRQ, &meanDTQ, &st.Nodes)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if meanCRQ.Valid {
		st.MeanCRQ = meanCRQ.Float64
	}
	if meanDTQ.Valid {
		st.MeanDTQ = meanDTQ.Float64
	}
	if st.Rounds > 0 {
		st.Throughput = float64(st.DataSuccess) / float64(st.Rounds)
	}

	rows, err := s.db.Query(
		`SELECT address, COUNT(*) FROM rounds WHERE experiment_id = ? AND data = 'success' GROUP BY address`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query per-node stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var addr, n int
		if err := rows.Scan(&addr, &n); err != nil {
			return nil, fmt.Errorf("scan per-node stats: %w", err)
		}
		if st.PerNode == nil {
			st.PerNode = make(map[uint16]int)
		}
		st.PerNode[uint16(addr)] = n
	}
	return st, rows.Err()
}

// --- Event Operations ---

// WriteEvent writes a journal entry.
func (s *Store) WriteEvent(action, inputsHash, outcome, experimentID, details string) (*models.Event, error) {
	ev := &models.Event{
		ID:           uuid.New().String(),
		Action:       action,
		InputsHash:   inputsHash,
		Outcome:      outcome,
		ExperimentID: experimentID,
		Details:      details,
		Timestamp:    time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO events (id, action, inputs_hash, outcome, experiment_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Action, ev.InputsHash, ev.Outcome, ev.ExperimentID, ev.Details, ev.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// ListEvents returns the journal of an experiment, oldest first.
func (s *Store) ListEvents(experimentID string) ([]models.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, experiment_id, details, timestamp FROM events WHERE experiment_id = ? ORDER BY timestamp, rowid`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var expID, details sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Action, &ev.InputsHash, &ev.Outcome, &expID, &details, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.ExperimentID = expID.String
		ev.Details = details.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

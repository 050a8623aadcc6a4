// Package controlplane provides the HTTP API and service layer for dqmote.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/fentz26/dqmote/internal/audit"
	"github.com/fentz26/dqmote/internal/connectors"
	"github.com/fentz26/dqmote/internal/models"
	"github.com/fentz26/dqmote/internal/probe"
	"github.com/fentz26/dqmote/internal/store"
)

// Service provides the control plane business logic.
type Service struct {
	store      *store.Store
	journal    *audit.Journal
	connectors map[string]connectors.Connector
	live       *Hub

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new control plane service running experiments on
// the given connectors, keyed by name.
func NewService(s *store.Store, j *audit.Journal, conns ...connectors.Connector) *Service {
	svc := &Service{
		store:      s,
		journal:    j,
		connectors: make(map[string]connectors.Connector),
		live:       NewHub(),
		running:    make(map[string]context.CancelFunc),
	}
	for _, c := range conns {
		svc.connectors[c.Name()] = c
	}
	return svc
}

// Live returns the hub publishing rounds as they are recorded.
func (s *Service) Live() *Hub { return s.live }

// --- Experiment Operations ---

func (s *Service) prepare(source string, spec connectors.Spec) (connectors.Connector, *models.Experiment, error) {
	conn, ok := s.connectors[source]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	if !conn.IsAllowed(spec) {
		return nil, nil, ErrNotAllowed
	}
	exp, err := s.store.CreateExperiment(models.Experiment{
		Source:   conn.Name(),
		Protocol: spec.Protocol,
		Slots:    int(spec.Slots),
		Nodes:    spec.Nodes,
		Duration: int(spec.Duration),
	})
	if err != nil {
		return nil, nil, err
	}
	s.journal.Record("experiment.start", spec, "success", exp.ID, "source="+conn.Name())
	log.Printf("Experiment %s started on %s (%s, %d slots)", exp.ID, conn.Name(), spec.Protocol, spec.Slots)
	return conn, exp, nil
}

// RunExperiment runs an experiment to completion and returns its final
// record.
func (s *Service) RunExperiment(ctx context.Context, source string, spec connectors.Spec) (*models.Experiment, *connectors.Result, error) {
	conn, exp, err := s.prepare(source, spec)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	s.track(exp.ID, cancel)
	defer s.untrack(exp.ID)

	res, runErr := s.run(ctx, conn, exp, spec)
	final, err := s.store.GetExperiment(exp.ID)
	if err != nil {
		return nil, res, err
	}
	return final, res, runErr
}

// StartExperiment starts an experiment in the background.
func (s *Service) StartExperiment(source string, spec connectors.Spec) (*models.Experiment, error) {
	conn, exp, err := s.prepare(source, spec)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.track(exp.ID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(exp.ID)
		if _, err := s.run(ctx, conn, exp, spec); err != nil {
			log.Printf("Experiment %s failed: %v", exp.ID, err)
		}
	}()
	return exp, nil
}

// run streams the connector's frames through a probe into the store. A run
// stopped by cancellation finishes normally.
func (s *Service) run(ctx context.Context, conn connectors.Connector, exp *models.Experiment, spec connectors.Spec) (*connectors.Result, error) {
	p := probe.New(s.store, exp.ID)
	p.OnRound(s.live.Publish)
	p.OnReset(func() {
		s.journal.Record("mote.reset", map[string]string{"experiment_id": exp.ID}, "success", exp.ID, "gateway reset notice")
	})

	res, err := conn.Run(ctx, spec, p.Handle)
	if ferr := p.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if ferr := s.store.FinishExperiment(exp.ID, err); ferr != nil {
		log.Printf("Experiment %s: %v", exp.ID, ferr)
	}
	c := p.Counters()
	s.journal.Record("experiment.finish", spec, outcome, exp.ID,
		fmt.Sprintf("records=%d resets=%d invalid=%d", c.Records, c.Resets, c.Invalid))
	log.Printf("Experiment %s finished: %d records", exp.ID, c.Records)
	return res, err
}

func (s *Service) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[id] = cancel
	s.mu.Unlock()
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
	s.mu.Unlock()
}

// StopExperiment cancels a running experiment.
func (s *Service) StopExperiment(id string) error {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	cancel()
	s.journal.Record("experiment.stop", map[string]string{"experiment_id": id}, "success", id, "")
	return nil
}

// Wait blocks until every background experiment has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown stops every running experiment and waits for them.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()
	s.Wait()
}

// GetExperiment retrieves an experiment by ID.
func (s *Service) GetExperiment(id string) (*models.Experiment, error) {
	exp, err := s.store.GetExperiment(id)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, ErrNotFound
	}
	return exp, nil
}

// ListExperiments returns experiments, optionally filtered by status.
func (s *Service) ListExperiments(status string) ([]models.Experiment, error) {
	return s.store.ListExperiments(status)
}

// GetStats returns the aggregated rounds of an experiment.
func (s *Service) GetStats(id string) (*models.Stats, error) {
	if _, err := s.GetExperiment(id); err != nil {
		return nil, err
	}
	return s.store.GetStats(id)
}

// ListRounds returns a page of rounds.
func (s *Service) ListRounds(id string, offset, limit int) ([]models.Round, error) {
	if _, err := s.GetExperiment(id); err != nil {
		return nil, err
	}
	return s.store.ListRounds(id, offset, limit)
}

// ListEvents returns the journal of an experiment.
func (s *Service) ListEvents(id string) ([]models.Event, error) {
	if _, err := s.GetExperiment(id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(id)
}

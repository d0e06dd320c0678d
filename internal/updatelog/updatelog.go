// Package updatelog records job and operation outcomes in the append-only
// update log.
package updatelog

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"TickerVault/internal/model"
)

// Entry types for operations started outside the scheduler. Scheduled runs
// use their job id.
const (
	TypeManualUpdate = "manual-update"
	TypeRebackfill   = "rebackfill"
)

// Store is the update log persistence. store.UpdateLogStore satisfies it.
type Store interface {
	AppendLog(ctx context.Context, e model.UpdateLogEntry) (int64, error)
	ListLogs(ctx context.Context, limit int) ([]model.UpdateLogEntry, error)
	ClearLogs(ctx context.Context) (int64, error)
}

// Service appends and queries entries.
type Service struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(store Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "updatelog").Logger(),
		now:   time.Now,
	}
}

// Record appends one entry.
func (s *Service) Record(ctx context.Context, typ string, status model.UpdateStatus, message string, details map[string]any) (int64, error) {
	return s.store.AppendLog(ctx, model.UpdateLogEntry{
		Type:      typ,
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: s.now().UTC(),
	})
}

// List returns up to limit entries, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]model.UpdateLogEntry, error) {
	return s.store.ListLogs(ctx, limit)
}

// Clear removes every entry. Only operators call this.
func (s *Service) Clear(ctx context.Context) (int64, error) {
	n, err := s.store.ClearLogs(ctx)
	if err == nil {
		s.log.Info().Int64("removed", n).Msg("update log cleared")
	}
	return n, err
}

// Run ties the IN_PROGRESS entry of an operation to its final entry.
type Run struct {
	ID      string
	Type    string
	Started time.Time

	svc *Service
}

// Start appends an IN_PROGRESS entry and returns the run handle. A failed
// append is logged; the operation itself still proceeds.
func (s *Service) Start(ctx context.Context, typ string, details map[string]any) *Run {
	r := &Run{ID: uuid.NewString(), Type: typ, Started: s.now(), svc: s}
	d := withRun(details, r.ID)
	if _, err := s.Record(ctx, typ, model.StatusInProgress, "started", d); err != nil {
		s.log.Error().Err(err).Str("type", typ).Msg("append update log")
	}
	return r
}

// Finish appends SUCCESS, or ERROR when err is non-nil, with the elapsed time.
func (r *Run) Finish(ctx context.Context, err error, message string, details map[string]any) {
	status := model.StatusSuccess
	if err != nil {
		status = model.StatusError
		if message == "" {
			message = err.Error()
		}
	}
	d := withRun(details, r.ID)
	d["duration_ms"] = r.svc.now().Sub(r.Started).Milliseconds()
	if err != nil {
		d["error"] = err.Error()
	}
	if _, aerr := r.svc.Record(ctx, r.Type, status, message, d); aerr != nil {
		r.svc.log.Error().Err(aerr).Str("type", r.Type).Msg("append update log")
	}
}

// FinishSummary finishes a batch run with its success counts and the
// symbols that failed. A non-nil err takes over the message.
func (r *Run) FinishSummary(ctx context.Context, err error, s model.RunSummary) {
	failed := s.Failed()
	symbols := make([]string, len(failed))
	for i, f := range failed {
		symbols[i] = f.Region + ":" + f.Symbol
	}
	message := fmt.Sprintf("%d/%d symbols updated", s.SuccessCount, s.TotalSymbols)
	if err != nil {
		message = ""
	}
	r.Finish(ctx, err, message, map[string]any{
		"success_count": s.SuccessCount,
		"total_symbols": s.TotalSymbols,
		"failed":        symbols,
	})
}

func withRun(details map[string]any, id string) map[string]any {
	d := make(map[string]any, len(details)+2)
	maps.Copy(d, details)
	d["run_id"] = id
	return d
}

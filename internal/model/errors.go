package model

import (
	"errors"
	"fmt"
	"time"
)

// ProviderErrorKind classifies a provider failure.
type ProviderErrorKind string

const (
	KindTransient   ProviderErrorKind = "TRANSIENT"
	KindRateLimited ProviderErrorKind = "RATE_LIMITED"
	KindNotFound    ProviderErrorKind = "NOT_FOUND"
)

// ProviderError is returned by every Provider implementation.
type ProviderError struct {
	Kind   ProviderErrorKind
	Symbol string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Kind, e.Symbol)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Kind, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed if repeated.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// NewProviderError builds a ProviderError.
func NewProviderError(kind ProviderErrorKind, symbol string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Symbol: symbol, Err: err}
}

// IsNotFound reports whether err is a terminal "symbol not found" failure.
func IsNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindNotFound
}

// IsRetryable reports whether err is a transient or rate-limited provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// DataAnomalyError describes a bar the sanitizer considered implausible.
// It never fails a symbol; it is surfaced as a warning.
type DataAnomalyError struct {
	Symbol  string
	Date    time.Time
	Ratio   float64
	Dropped bool
}

func (e *DataAnomalyError) Error() string {
	action := "kept"
	if e.Dropped {
		action = "dropped"
	}
	return fmt.Sprintf("abnormal move %.1f%% for %s on %s (%s)",
		e.Ratio*100, e.Symbol, e.Date.Format(DateFormat), action)
}

// ErrAlreadyRunning is matched by every AlreadyRunningError.
var ErrAlreadyRunning = errors.New("already running")

// AlreadyRunningError is returned when a run is refused because one is in flight.
type AlreadyRunningError struct {
	JobID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("%s: %s", e.JobID, ErrAlreadyRunning)
}

func (e *AlreadyRunningError) Is(target error) bool { return target == ErrAlreadyRunning }

// StorageError wraps a failure of the series store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Scheduler API misuse.
var (
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidSchedule  = errors.New("invalid cron schedule")
	ErrSchedulerStopped = errors.New("scheduler is shut down")
)

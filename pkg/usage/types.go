package usage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome classifies how a proxied request ended.
type Outcome string

const (
	// OutcomeSuccess is any request that reached an upstream and got a
	// non-5xx response.
	OutcomeSuccess Outcome = "success"

	// OutcomeRejected is a request denied before the network hop
	// (authentication, rate limit, quota, no backend, pool saturation).
	OutcomeRejected Outcome = "rejected"

	// OutcomeUpstreamError is a timeout, connection failure or 5xx from the
	// last attempted backend.
	OutcomeUpstreamError Outcome = "upstream_error"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeRejected, OutcomeUpstreamError:
		return true
	}
	return false
}

// Record is one append-only usage entry. Exactly one is produced per inbound
// request and it is never mutated after it is written.
type Record struct {
	// Identity
	ID        string `json:"id"`         // UUID v4, assigned by the recorder
	RequestID string `json:"request_id"` // X-Request-ID of the inbound request
	KeyID     string `json:"key_id"`     // empty when authentication failed
	BackendID string `json:"backend_id"` // last backend attempted, if any

	Timestamp time.Time `json:"timestamp"` // when the request was received

	// Request
	Method string `json:"method"`
	Path   string `json:"path"`
	Model  string `json:"model,omitempty"`

	// Result
	Outcome    Outcome       `json:"outcome"`
	Reason     string        `json:"reason,omitempty"` // error type for rejections and upstream errors
	StatusCode int           `json:"status_code"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`

	// Usage
	RequestUnits        int64   `json:"request_units"`  // input tokens
	ResponseUnits       int64   `json:"response_units"` // output tokens
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CostEstimate        float64 `json:"cost_estimate"`

	RequestBytes  int64 `json:"request_bytes"`
	ResponseBytes int64 `json:"response_bytes"`
}

// Tokens returns the total token count of the record.
func (r *Record) Tokens() int64 {
	return r.RequestUnits + r.ResponseUnits + r.CacheCreationTokens + r.CacheReadTokens
}

// Range is a closed-open time interval [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ErrInvalidRange is returned for a range whose end is not after its start.
var ErrInvalidRange = errors.New("invalid usage range")

// Validate checks that the range is non-empty.
func (r Range) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: from and to are required", ErrInvalidRange)
	}
	if !r.To.After(r.From) {
		return fmt.Errorf("%w: to must be after from", ErrInvalidRange)
	}
	return nil
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// DefaultRangeDays is the number of days, today included, covered when a
// report names no start.
const DefaultRangeDays = 7

// ParseRange builds a reporting range from optional bounds. Each bound is
// RFC 3339 or a UTC date (2006-01-02). A date given as the end includes that
// whole day. An empty end is now; an empty start is DefaultRangeDays days
// back from the end's day.
func ParseRange(from, to string, now time.Time) (Range, error) {
	var r Range
	if to == "" {
		r.To = now
	} else {
		t, dateOnly, err := parseBound(to)
		if err != nil {
			return Range{}, fmt.Errorf("%w: to: %v", ErrInvalidRange, err)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		r.To = t
	}

	if from == "" {
		end := r.To
		if !end.Equal(Day(end)) {
			end = Day(end).AddDate(0, 0, 1)
		}
		r.From = end.AddDate(0, 0, -DefaultRangeDays)
	} else {
		t, _, err := parseBound(from)
		if err != nil {
			return Range{}, fmt.Errorf("%w: from: %v", ErrInvalidRange, err)
		}
		r.From = t
	}
	return r, r.Validate()
}

func parseBound(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither a date nor an RFC 3339 time", s)
	}
	return t, false, nil
}

// Day truncates t to the start of its UTC day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Summary aggregates the records of one key over one UTC day.
type Summary struct {
	Day                 time.Time `json:"day"`
	Requests            int64     `json:"requests"`
	Successes           int64     `json:"successes"`
	Rejected            int64     `json:"rejected"`
	UpstreamErrors      int64     `json:"upstream_errors"`
	InputTokens         int64     `json:"input_tokens"`
	OutputTokens        int64     `json:"output_tokens"`
	CacheCreationTokens int64     `json:"cache_creation_tokens"`
	CacheReadTokens     int64     `json:"cache_read_tokens"`
	Cost                float64   `json:"cost"`
}

// Add folds rec into the summary.
func (s *Summary) Add(rec *Record) {
	s.Requests++
	switch rec.Outcome {
	case OutcomeSuccess:
		s.Successes++
	case OutcomeRejected:
		s.Rejected++
	case OutcomeUpstreamError:
		s.UpstreamErrors++
	}
	s.InputTokens += rec.RequestUnits
	s.OutputTokens += rec.ResponseUnits
	s.CacheCreationTokens += rec.CacheCreationTokens
	s.CacheReadTokens += rec.CacheReadTokens
	s.Cost = RoundCost(s.Cost + rec.CostEstimate)
}

// Total sums a list of daily summaries. Day is left zero.
func Total(days []Summary) Summary {
	var t Summary
	for _, d := range days {
		t.Requests += d.Requests
		t.Successes += d.Successes
		t.Rejected += d.Rejected
		t.UpstreamErrors += d.UpstreamErrors
		t.InputTokens += d.InputTokens
		t.OutputTokens += d.OutputTokens
		t.CacheCreationTokens += d.CacheCreationTokens
		t.CacheReadTokens += d.CacheReadTokens
		t.Cost += d.Cost
	}
	t.Cost = RoundCost(t.Cost)
	return t
}

// Storage persists usage records and answers reporting queries.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Store appends a record.
	Store(ctx context.Context, rec *Record) error

	// Query returns per-day summaries for keyID within r, ordered by day.
	// An empty keyID aggregates every key. Days without traffic are omitted.
	Query(ctx context.Context, keyID string, r Range) ([]Summary, error)

	// List returns the most recent records for keyID within r, newest
	// first, at most limit of them. limit <= 0 means no limit.
	List(ctx context.Context, keyID string, r Range, limit int) ([]*Record, error)

	// Prune deletes records older than t and returns how many were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases resources held by the storage.
	Close() error
}

// StorageError wraps a failed storage operation.
type StorageError struct {
	Backend   string // "sqlite", "memory"
	Operation string // "store", "query", "prune", ...
	Cause     error
}

// NewStorageError creates a StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("usage storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

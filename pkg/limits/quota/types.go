package quota

import (
	"errors"
	"fmt"
	"time"
)

// ErrQuotaExceeded is returned by Admit when the reservation would push the
// key past its quota for the current period.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Unit is what a quota counts.
type Unit string

const (
	// UnitTokens counts input, output and cache tokens.
	UnitTokens Unit = "tokens"

	// UnitRequests counts admitted requests.
	UnitRequests Unit = "requests"

	// UnitCost counts estimated spend in micro-USD.
	UnitCost Unit = "cost"
)

// Counter is the durable usage of one key in one accounting period.
type Counter struct {
	KeyID       string    `json:"key_id"`
	PeriodStart time.Time `json:"period_start"`
	Used        int64     `json:"used"`
}

// Status is a point-in-time view of a key's quota.
type Status struct {
	KeyID       string    `json:"key_id"`
	Unit        Unit      `json:"unit"`
	Limit       int64     `json:"limit"`
	Used        int64     `json:"used"`
	Reserved    int64     `json:"reserved"`
	Remaining   int64     `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	Reset       time.Time `json:"reset"`
	Unlimited   bool      `json:"unlimited"`
}

// Usage is what the forwarder measured for one request.
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64

	// Cost is the estimated spend in USD.
	Cost float64

	// Known is false when the upstream response carried no usage block.
	Known bool
}

// Tokens returns the total token count.
func (u Usage) Tokens() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// ExceededError describes a quota denial.
type ExceededError struct {
	KeyID    string
	Limit    int64
	Used     int64
	Reserved int64
	Estimate int64
	Reset    time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for key %s: used %d + reserved %d + estimate %d > limit %d",
		e.KeyID, e.Used, e.Reserved, e.Estimate, e.Limit)
}

// Is reports whether target is ErrQuotaExceeded.
func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Reservation holds estimated units against a key's quota between admission
// and commit. It belongs to the period that was active at admission.
type Reservation struct {
	KeyID    string
	Period   time.Time
	Estimate int64
	Limit    int64

	// Remaining is limit - used - reserved right after admission, or -1
	// when the key is unlimited.
	Remaining int64

	// Reset is the end of Period.
	Reset time.Time

	done bool
}

// String describes the reservation for logs.
func (r *Reservation) String() string {
	return fmt.Sprintf("reservation{key=%s period=%s estimate=%d}", r.KeyID, r.Period.Format(time.RFC3339), r.Estimate)
}

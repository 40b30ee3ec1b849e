// Package keypool manages the upstream credential pool: a per-key state
// machine (ACTIVE, COOLING, FAILED), fair selection, a failure classifier
// driving cooling and retirement, and the admin mutation surface.
package keypool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/geminigate/geminigate/gemini"
)

// Status is the lifecycle state of a credential.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusCooling Status = "COOLING"
	StatusFailed  Status = "FAILED"
)

// maxCooling caps exponential backoff cooling at one hour.
const maxCooling = time.Hour

// quotaCoolingFactor extends cooling for quota-exhausted keys.
const quotaCoolingFactor = 3

var (
	// ErrExists is returned by Add for a key already in the pool.
	ErrExists = errors.New("key already exists")
	// ErrNotFound is returned when no record matches a key or prefix.
	ErrNotFound = errors.New("key not found")
	// ErrAmbiguous is returned when a prefix matches more than one record.
	ErrAmbiguous = errors.New("prefix matches multiple keys")
)

type (
	// Pool owns all credential records under a single mutex. The mutex
	// guards in-memory transitions only; callers perform network calls
	// outside of it.
	Pool struct {
		mu            sync.Mutex
		records       []*record
		lastUsedIndex int
		basePeriod    time.Duration
		maxRetries    int
		now           func() time.Time
	}

	// Options configures a Pool.
	Options struct {
		// Keys seeds the pool; records start ACTIVE in the given order.
		Keys []string
		// CoolingPeriod is the base cooling duration for transient failures.
		CoolingPeriod time.Duration
		// MaxRetries is the failure count at which a key is retired.
		MaxRetries int
		// Now overrides the clock for tests.
		Now func() time.Time
	}

	record struct {
		key                string
		status             Status
		failureCount       int
		coolingUntil       time.Time
		lastUsed           time.Time
		totalRequests      int
		successfulRequests int
	}

	// Summary counts records by status.
	Summary struct {
		Total   int `json:"total"`
		Active  int `json:"active"`
		Cooling int `json:"cooling"`
		Failed  int `json:"failed"`
	}

	// KeyStats is the per-key admin view. Key is redacted.
	KeyStats struct {
		Key                string  `json:"key"`
		Status             Status  `json:"status"`
		FailureCount       int     `json:"failure_count"`
		TotalRequests      int     `json:"total_requests"`
		SuccessfulRequests int     `json:"successful_requests"`
		CoolingRemaining   float64 `json:"cooling_remaining_seconds,omitempty"`
	}
)

// New constructs a Pool seeded with opts.Keys.
func New(opts Options) *Pool {
	p := &Pool{
		lastUsedIndex: -1,
		basePeriod:    opts.CoolingPeriod,
		maxRetries:    opts.MaxRetries,
		now:           opts.Now,
	}
	if p.basePeriod <= 0 {
		p.basePeriod = 5 * time.Minute
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.now == nil {
		p.now = time.Now
	}
	for _, key := range opts.Keys {
		p.records = append(p.records, &record{key: key, status: StatusActive})
	}
	return p
}

// Acquire selects the next key to use. Cooled-down records recover to ACTIVE
// first; records never used before are preferred in insertion order, then
// selection proceeds round-robin. The second return is false when no key is
// available.
func (p *Pool) Acquire() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.recover(now)

	active := p.activeRecords()
	if len(active) == 0 {
		return "", false
	}

	pick := -1
	for i, r := range active {
		if r.lastUsed.IsZero() {
			pick = i
			break
		}
	}
	if pick == -1 {
		pick = (p.lastUsedIndex + 1) % len(active)
	}
	p.lastUsedIndex = pick

	r := active[pick]
	r.lastUsed = now
	r.totalRequests++
	return r.key, true
}

// MarkSuccess records a successful upstream call. A success walks back one
// accumulated failure so a flaky key earns its way out of backoff.
func (p *Pool) MarkSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.find(key)
	if r == nil {
		return
	}
	r.successfulRequests++
	if r.failureCount > 0 {
		r.failureCount--
	}
}

// MarkFailure classifies err and transitions the key. Permanent errors retire
// the key, quota exhaustion triggers extended cooling, anything else counts
// toward exponential-backoff cooling and eventual retirement.
func (p *Pool) MarkFailure(key string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.find(key)
	if r == nil {
		return
	}
	now := p.now()

	kind := gemini.KindOf(err)
	switch {
	case kind.Permanent():
		r.status = StatusFailed
		r.coolingUntil = time.Time{}
	case kind == gemini.KindQuotaExhausted:
		r.status = StatusCooling
		r.coolingUntil = now.Add(quotaCoolingFactor * p.basePeriod)
	default:
		r.failureCount++
		if r.failureCount >= p.maxRetries {
			r.status = StatusFailed
			r.coolingUntil = time.Time{}
			return
		}
		r.status = StatusCooling
		r.coolingUntil = now.Add(backoff(p.basePeriod, r.failureCount))
	}
}

// Add appends a new ACTIVE record. Returns ErrExists if the key is present.
func (p *Pool) Add(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.find(key) != nil {
		return ErrExists
	}
	p.records = append(p.records, &record{key: key, status: StatusActive})
	return nil
}

// Remove deletes the record for key. Returns ErrNotFound if absent.
func (p *Pool) Remove(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, r := range p.records {
		if r.key == key {
			p.records = append(p.records[:i], p.records[i+1:]...)
			p.lastUsedIndex = -1
			return nil
		}
	}
	return ErrNotFound
}

// SetStatus resolves prefix to a unique record and forces its status.
// Activation clears cooling and resets the failure count. The resolved key is
// returned redacted for logging.
func (p *Pool) SetStatus(prefix string, status Status) (string, error) {
	switch status {
	case StatusActive, StatusCooling, StatusFailed:
	default:
		return "", fmt.Errorf("invalid status %q", status)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var match *record
	for _, r := range p.records {
		if len(r.key) >= len(prefix) && r.key[:len(prefix)] == prefix {
			if match != nil {
				return "", ErrAmbiguous
			}
			match = r
		}
	}
	if match == nil {
		return "", ErrNotFound
	}

	match.status = status
	switch status {
	case StatusActive:
		match.coolingUntil = time.Time{}
		match.failureCount = 0
	case StatusCooling:
		match.coolingUntil = p.now().Add(p.basePeriod)
	default:
		match.coolingUntil = time.Time{}
	}
	return Redact(match.key), nil
}

// Summary returns the status partition counts.
func (p *Pool) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recover(p.now())
	s := Summary{Total: len(p.records)}
	for _, r := range p.records {
		switch r.status {
		case StatusActive:
			s.Active++
		case StatusCooling:
			s.Cooling++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Detailed returns the per-key admin view with redacted keys.
func (p *Pool) Detailed() []KeyStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.recover(now)
	out := make([]KeyStats, 0, len(p.records))
	for _, r := range p.records {
		ks := KeyStats{
			Key:                Redact(r.key),
			Status:             r.status,
			FailureCount:       r.failureCount,
			TotalRequests:      r.totalRequests,
			SuccessfulRequests: r.successfulRequests,
		}
		if r.status == StatusCooling {
			ks.CoolingRemaining = r.coolingUntil.Sub(now).Seconds()
		}
		out = append(out, ks)
	}
	return out
}

// Size returns the number of records in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// recover transitions cooled-down records back to ACTIVE. Failure counts are
// kept: only a success or a manual reset clears them. Caller holds the lock.
func (p *Pool) recover(now time.Time) {
	for _, r := range p.records {
		if r.status == StatusCooling && !r.coolingUntil.After(now) {
			r.status = StatusActive
			r.coolingUntil = time.Time{}
		}
	}
}

func (p *Pool) activeRecords() []*record {
	var active []*record
	for _, r := range p.records {
		if r.status == StatusActive {
			active = append(active, r)
		}
	}
	return active
}

func (p *Pool) find(key string) *record {
	for _, r := range p.records {
		if r.key == key {
			return r
		}
	}
	return nil
}

// backoff computes min(base * 2^(failures-1), 1h).
func backoff(base time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= maxCooling {
			return maxCooling
		}
	}
	if d > maxCooling {
		return maxCooling
	}
	return d
}

// Redact renders a key for logs: a bounded prefix and suffix, never more than
// twelve characters of key material.
func Redact(key string) string {
	if len(key) <= 4 {
		return "***"
	}
	if len(key) <= 12 {
		return key[:4] + "..."
	}
	return key[:8] + "..." + key[len(key)-4:]
}

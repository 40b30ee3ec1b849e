// Package monitor provides passive observability for the gateway: an error
// classifier feeding a bounded ring buffer and a performance recorder with
// latency percentiles. The dispatcher and HTTP layer notify it; it never
// influences request handling.
package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/geminigate/geminigate/gemini"
	"github.com/geminigate/geminigate/openaiapi"
	"github.com/geminigate/geminigate/translate"
)

// ErrorType buckets failures for aggregation.
type ErrorType string

const (
	ErrorAuth       ErrorType = "auth_error"
	ErrorRateLimit  ErrorType = "rate_limit"
	ErrorQuota      ErrorType = "quota_exceeded"
	ErrorValidation ErrorType = "validation_error"
	ErrorServer     ErrorType = "server_error"
	ErrorNetwork    ErrorType = "network_error"
	ErrorInternal   ErrorType = "internal_error"
)

// Severity ranks how loudly an error is reported.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type (
	// ErrorContext is one classified failure.
	ErrorContext struct {
		Type      ErrorType `json:"type"`
		Severity  Severity  `json:"severity"`
		Endpoint  string    `json:"endpoint"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}

	// Errors is a bounded ring of classified failures plus per-type counts.
	Errors struct {
		mu     sync.Mutex
		ring   []ErrorContext
		next   int
		full   bool
		counts map[ErrorType]int
		now    func() time.Time
	}

	// ErrorStats is the aggregate view served by /stats.
	ErrorStats struct {
		Total  int               `json:"total"`
		ByType map[ErrorType]int `json:"by_type"`
	}
)

// errorRingSize bounds retained error contexts.
const errorRingSize = 1000

// NewErrors constructs the error monitor.
func NewErrors() *Errors {
	return &Errors{
		ring:   make([]ErrorContext, errorRingSize),
		counts: make(map[ErrorType]int),
		now:    time.Now,
	}
}

// Classify maps an error to its type and severity. endpoint adjusts severity:
// streaming failures are routine, admin failures are not.
func Classify(err error, endpoint string) ErrorContext {
	ec := ErrorContext{
		Type:     ErrorInternal,
		Severity: SeverityMedium,
		Endpoint: endpoint,
		Message:  err.Error(),
	}

	var ve *openaiapi.ValidationError
	var re *translate.RequestError
	switch {
	case errors.As(err, &ve), errors.As(err, &re):
		ec.Type = ErrorValidation
		ec.Severity = SeverityLow
	default:
		if pe, ok := gemini.AsProviderError(err); ok {
			switch pe.Kind() {
			case gemini.KindUnauthenticated, gemini.KindPermissionDenied:
				ec.Type = ErrorAuth
				ec.Severity = SeverityHigh
			case gemini.KindQuotaExhausted:
				ec.Type = ErrorQuota
				ec.Severity = SeverityHigh
			case gemini.KindInvalidArgument:
				ec.Type = ErrorValidation
				ec.Severity = SeverityLow
			case gemini.KindUnavailable:
				if pe.HTTPStatus() >= 500 {
					ec.Type = ErrorServer
				} else {
					ec.Type = ErrorNetwork
				}
				ec.Severity = SeverityMedium
			}
		}
	}

	if strings.Contains(endpoint, "stream") {
		ec.Severity = SeverityLow
	}
	if strings.Contains(endpoint, "admin") {
		ec.Severity = SeverityHigh
	}
	return ec
}

// Record classifies err, stores it, and logs it at a level matching its
// severity.
func (m *Errors) Record(ctx context.Context, err error, endpoint string) {
	ec := Classify(err, endpoint)

	m.mu.Lock()
	ec.Timestamp = m.now()
	m.ring[m.next] = ec
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	m.counts[ec.Type]++
	m.mu.Unlock()

	fields := []log.Fielder{log.KV{K: "error_type", V: string(ec.Type)}, log.KV{K: "endpoint", V: endpoint}}
	switch ec.Severity {
	case SeverityHigh:
		log.Error(ctx, err, fields...)
	case SeverityMedium:
		log.Warn(ctx, append(fields, log.KV{K: "err", V: err.Error()})...)
	default:
		log.Debug(ctx, append(fields, log.KV{K: "err", V: err.Error()})...)
	}
}

// Stats returns the aggregate error counts.
func (m *Errors) Stats() ErrorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.next
	if m.full {
		total = len(m.ring)
	}
	byType := make(map[ErrorType]int, len(m.counts))
	for k, v := range m.counts {
		byType[k] = v
	}
	return ErrorStats{Total: total, ByType: byType}
}

// Recent returns up to limit most recent errors, newest first.
func (m *Errors) Recent(limit int) []ErrorContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.full {
		size = len(m.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]ErrorContext, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (m.next - 1 - i + len(m.ring)) % len(m.ring)
		out = append(out, m.ring[idx])
	}
	return out
}

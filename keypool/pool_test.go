package keypool

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geminigate/geminigate/gemini"
)

// testClock is an adjustable clock for pool tests.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1700000000, 0)}
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPool(clock *testClock, keys ...string) *Pool {
	return New(Options{
		Keys:          keys,
		CoolingPeriod: 60 * time.Second,
		MaxRetries:    3,
		Now:           clock.now,
	})
}

func transientErr() error {
	return gemini.NewProviderError(gemini.KindUnavailable, 503, "UNAVAILABLE", "overloaded", nil)
}

func quotaErr() error {
	return gemini.NewProviderError(gemini.KindQuotaExhausted, 429, "RESOURCE_EXHAUSTED", "quota", nil)
}

func permissionErr() error {
	return gemini.NewProviderError(gemini.KindPermissionDenied, 403, "PERMISSION_DENIED", "denied", nil)
}

func TestRoundRobinFairness(t *testing.T) {
	p := newTestPool(newTestClock(), "K1", "K2", "K3")

	var got []string
	for i := 0; i < 6; i++ {
		key, ok := p.Acquire()
		require.True(t, ok)
		got = append(got, key)
	}
	assert.Equal(t, []string{"K1", "K2", "K3", "K1", "K2", "K3"}, got)
}

func TestCoolingAndRecovery(t *testing.T) {
	clock := newTestClock()
	p := newTestPool(clock, "K1", "K2")

	p.MarkFailure("K1", transientErr())
	assert.Equal(t, Summary{Total: 2, Active: 1, Cooling: 1}, p.Summary())

	clock.advance(30 * time.Second)
	key, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, "K2", key, "cooling key must be skipped")

	clock.advance(31 * time.Second)
	key, ok = p.Acquire()
	require.True(t, ok)
	assert.Equal(t, "K1", key, "cooled-down key auto-recovers")

	stats := p.Detailed()
	assert.Equal(t, 1, stats[0].FailureCount, "auto-recovery keeps the failure count")

	p.MarkSuccess("K1")
	stats = p.Detailed()
	assert.Equal(t, 0, stats[0].FailureCount, "a success walks back one failure")
}

func TestPermanentFailure(t *testing.T) {
	clock := newTestClock()
	p := newTestPool(clock, "K1", "K2")

	p.MarkFailure("K1", permissionErr())
	assert.Equal(t, Summary{Total: 2, Active: 1, Failed: 1}, p.Summary())

	clock.advance(24 * time.Hour)
	for i := 0; i < 4; i++ {
		key, ok := p.Acquire()
		require.True(t, ok)
		assert.Equal(t, "K2", key, "failed keys never auto-recover")
	}

	_, err := p.SetStatus("K1", StatusActive)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Active: 2}, p.Summary())
}

func TestQuotaExtendedCooling(t *testing.T) {
	clock := newTestClock()
	p := newTestPool(clock, "K1")

	p.MarkFailure("K1", quotaErr())
	assert.Equal(t, Summary{Total: 1, Cooling: 1}, p.Summary())

	clock.advance(179 * time.Second)
	_, ok := p.Acquire()
	assert.False(t, ok, "quota cooling lasts three base periods")

	clock.advance(2 * time.Second)
	key, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, "K1", key)
}

func TestExponentialBackoff(t *testing.T) {
	clock := newTestClock()
	p := newTestPool(clock, "K1")

	// First transient failure: cooling = base.
	p.MarkFailure("K1", transientErr())
	stats := p.Detailed()
	assert.InDelta(t, 60, stats[0].CoolingRemaining, 0.01)

	// Second: cooling = 2 * base.
	clock.advance(61 * time.Second)
	_, ok := p.Acquire()
	require.True(t, ok)
	p.MarkFailure("K1", transientErr())
	stats = p.Detailed()
	assert.InDelta(t, 120, stats[0].CoolingRemaining, 0.01)

	// Third reaches max_retries: retired.
	clock.advance(121 * time.Second)
	_, ok = p.Acquire()
	require.True(t, ok)
	p.MarkFailure("K1", transientErr())
	assert.Equal(t, Summary{Total: 1, Failed: 1}, p.Summary())
}

func TestBackoffCap(t *testing.T) {
	assert.Equal(t, time.Minute, backoff(time.Minute, 1))
	assert.Equal(t, 8*time.Minute, backoff(time.Minute, 4))
	assert.Equal(t, time.Hour, backoff(time.Minute, 20), "backoff caps at one hour")
	assert.Equal(t, time.Hour, backoff(2*time.Hour, 1), "base above the cap is clamped")
}

func TestEmptyPool(t *testing.T) {
	p := newTestPool(newTestClock())
	_, ok := p.Acquire()
	assert.False(t, ok)
}

func TestColdStartFairness(t *testing.T) {
	clock := newTestClock()
	p := newTestPool(clock, "K1", "K2", "K3")

	k, _ := p.Acquire()
	assert.Equal(t, "K1", k)

	// A key added later has never been used and is preferred.
	require.NoError(t, p.Add("K4"))
	k, _ = p.Acquire()
	assert.Equal(t, "K2", k)
	k, _ = p.Acquire()
	assert.Equal(t, "K3", k)
	k, _ = p.Acquire()
	assert.Equal(t, "K4", k)
}

func TestAddRemove(t *testing.T) {
	p := newTestPool(newTestClock(), "K1")

	assert.ErrorIs(t, p.Add("K1"), ErrExists)
	require.NoError(t, p.Add("K2"))
	assert.Equal(t, 2, p.Size())

	require.NoError(t, p.Remove("K1"))
	assert.ErrorIs(t, p.Remove("K1"), ErrNotFound)
	assert.Equal(t, 1, p.Size())
}

func TestSetStatusPrefix(t *testing.T) {
	p := newTestPool(newTestClock(), "AIzaSyA-first-key", "AIzaSyB-second-key")

	_, err := p.SetStatus("AIzaSy", StatusFailed)
	assert.ErrorIs(t, err, ErrAmbiguous)

	_, err = p.SetStatus("nomatch", StatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)

	redacted, err := p.SetStatus("AIzaSyA", StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, "AIzaSyA-...-key", redacted)
	assert.Equal(t, Summary{Total: 2, Active: 1, Failed: 1}, p.Summary())

	_, err = p.SetStatus("AIzaSyA", Status("BOGUS"))
	assert.Error(t, err)
}

func TestSetStatusActivationResets(t *testing.T) {
	clock := newTestClock()
	p := newTestPool(clock, "K1-long-enough")

	p.MarkFailure("K1-long-enough", transientErr())
	p.MarkFailure("K1-long-enough", transientErr())

	_, err := p.SetStatus("K1", StatusActive)
	require.NoError(t, err)
	stats := p.Detailed()
	assert.Equal(t, StatusActive, stats[0].Status)
	assert.Equal(t, 0, stats[0].FailureCount, "manual activation resets the failure count")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "AIzaSyDa...wxyz", Redact("AIzaSyDaVeryLongKey-wxyz"))
	assert.Equal(t, "shor...", Redact("shortkey"))
	assert.Equal(t, "***", Redact("k"))

	for _, in := range []string{"AIzaSyDaVeryLongKey-wxyz", "shortkey", "k"} {
		out := Redact(in)
		for l := 13; l <= len(in); l++ {
			for i := 0; i+l <= len(in); i++ {
				assert.NotContains(t, out, in[i:i+l], "redaction leaks %d chars", l)
			}
		}
	}
}

func TestUnknownKeyIgnored(t *testing.T) {
	p := newTestPool(newTestClock(), "K1")
	p.MarkSuccess("nope")
	p.MarkFailure("nope", transientErr())
	assert.Equal(t, Summary{Total: 1, Active: 1}, p.Summary())
}

func TestDetailedCounts(t *testing.T) {
	p := newTestPool(newTestClock(), "K1-long-enough")
	key, _ := p.Acquire()
	p.MarkSuccess(key)
	key, _ = p.Acquire()
	p.MarkFailure(key, transientErr())

	stats := p.Detailed()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].TotalRequests)
	assert.Equal(t, 1, stats[0].SuccessfulRequests)
	assert.GreaterOrEqual(t, stats[0].TotalRequests, stats[0].SuccessfulRequests)
}

// Whatever sequence of signals the pool sees, Summary must stay a partition
// of the records and counters must stay consistent.
func TestPropSummaryPartition(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	errs := []error{transientErr(), quotaErr(), permissionErr(), errors.New("weird")}

	properties := gopter.NewProperties(params)
	properties.Property("summary partitions the pool", prop.ForAll(
		func(ops []int) bool {
			clock := newTestClock()
			p := newTestPool(clock, "K1", "K2", "K3")
			for _, op := range ops {
				if op < 0 {
					op = -op
				}
				switch op % 4 {
				case 0:
					if key, ok := p.Acquire(); ok {
						p.MarkSuccess(key)
					}
				case 1:
					if key, ok := p.Acquire(); ok {
						p.MarkFailure(key, errs[(op/4)%len(errs)])
					}
				case 2:
					clock.advance(time.Duration(op%600) * time.Second)
				case 3:
					_, _ = p.SetStatus("K1", StatusActive)
				}
			}
			s := p.Summary()
			return s.Total == 3 && s.Active+s.Cooling+s.Failed == s.Total
		},
		gen.SliceOf(gen.Int()),
	))
	properties.TestingRun(t)
}

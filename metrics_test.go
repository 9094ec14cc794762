package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)
	m.Observe(MetricValidateLatency, 3*time.Millisecond)
	m.Observe(MetricValidateLatency, 40*time.Millisecond)
	m.Observe(MetricValidateLatency, time.Second)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("login success = %d, want 2", got)
	}

	s := m.Snapshot()
	if s.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("login failure = %d, want 1", s.Counters[MetricLoginFailure])
	}
	buckets := s.Histograms[MetricValidateLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("buckets = %d, want %d", len(buckets), histBucketCount)
	}
	if buckets[0] != 1 || buckets[3] != 1 || buckets[7] != 1 {
		t.Fatalf("bucket spread = %v", buckets)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{})

	m.Inc(MetricLoginSuccess)
	m.Observe(MetricValidateLatency, time.Millisecond)

	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("disabled table must stay at zero")
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled snapshot must be empty")
	}

	// Nil receiver is a no-op too.
	var nilM *Metrics
	nilM.Inc(MetricLoginSuccess)
	if nilM.Value(MetricLoginSuccess) != 0 {
		t.Fatal("nil table must read zero")
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRefreshSuccess); got != 8000 {
		t.Fatalf("count = %d, want 8000", got)
	}
}

func TestEngineCountsLoginOutcomes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.createAccount("alice@example.com", "correct-horse-1", true)

	if _, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", "wrong-horse-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal(err)
	}

	s := env.engine.MetricsSnapshot()
	if s.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("login success = %d, want 1", s.Counters[MetricLoginSuccess])
	}
	if s.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("login failure = %d, want 1", s.Counters[MetricLoginFailure])
	}
	if s.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("sessions created = %d, want 1", s.Counters[MetricSessionCreated])
	}
}

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	kerrors "github.com/kestrelbot/kestrel/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNextBackoff_GrowsAndCaps(t *testing.T) {
	delay := 5 * time.Second
	prev := delay
	for i := 0; i < 40; i++ {
		delay = nextBackoff(delay, 1.2)
		assert.GreaterOrEqual(t, delay, prev, "backoff must be non-decreasing")
		assert.LessOrEqual(t, delay, maxBackoff)
		prev = delay
	}
	assert.Equal(t, maxBackoff, delay, "repeated growth must reach the cap")
}

func TestResolver_SuccessFirstTry(t *testing.T) {
	r := CreateResolver(ResolverParams{
		Host: "chat.example.org",
		Port: 6667,
		Lookup: func(context.Context, string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("192.0.2.10"), net.ParseIP("2001:db8::1")}, nil
		},
		Logger: zap.NewNop(),
	})

	att := r.Pump(context.Background())
	require.Equal(t, ResolvePre, att.State)

	att = r.Pump(context.Background())
	require.Equal(t, ResolveSuccess, att.State)
	require.Len(t, att.Endpoints, 2)
	assert.Equal(t, "192.0.2.10:6667", att.Endpoints[0].Addr())
	assert.True(t, att.Endpoints[1].IsIPv6())
}

func TestResolver_FamilyFilter(t *testing.T) {
	r := CreateResolver(ResolverParams{
		Host:   "chat.example.org",
		Port:   6667,
		Family: FamilyIPv4,
		Lookup: func(context.Context, string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("192.0.2.10"), net.ParseIP("2001:db8::1")}, nil
		},
		Logger: zap.NewNop(),
	})

	r.Pump(context.Background())
	att := r.Pump(context.Background())
	require.Equal(t, ResolveSuccess, att.State)
	require.Len(t, att.Endpoints, 1)
	assert.False(t, att.Endpoints[0].IsIPv6())
}

func TestResolver_TransientRetriesThenExhausts(t *testing.T) {
	mock := clock.NewMock()
	transient := &net.DNSError{Err: "timeout", Name: "x", IsTimeout: true, IsTemporary: true}

	r := CreateResolver(ResolverParams{
		Host:              "chat.example.org",
		Port:              6667,
		MaxAttempts:       3,
		InitialRetryDelay: time.Second,
		Lookup: func(context.Context, string) ([]net.IP, error) {
			return nil, transient
		},
		Logger: zap.NewNop(),
		Clock:  mock,
	})

	require.Equal(t, ResolvePre, r.Pump(context.Background()).State)

	att := r.Pump(context.Background())
	require.Equal(t, ResolveTransientError, att.State)
	assert.Equal(t, time.Second, att.Delay)

	// The next pumps sleep their backoff on the mock clock.
	results := make(chan ResolveAttempt, 2)
	go func() {
		results <- r.Pump(context.Background())
		results <- r.Pump(context.Background())
	}()

	deadline := time.After(5 * time.Second)
	collected := make([]ResolveAttempt, 0, 2)
	for len(collected) < 2 {
		select {
		case att := <-results:
			collected = append(collected, att)
		case <-deadline:
			t.Fatal("resolver pumps did not finish")
		default:
			mock.Add(500 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}

	require.Equal(t, ResolveTransientError, collected[0].State)
	assert.Greater(t, collected[0].Delay, time.Second, "backoff must grow")

	require.Equal(t, ResolveFatalError, collected[1].State)
	var exhausted *kerrors.ResolutionFailed
	require.ErrorAs(t, collected[1].Err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestResolver_NotFoundIsFatal(t *testing.T) {
	r := CreateResolver(ResolverParams{
		Host: "nope.example.org",
		Port: 6667,
		Lookup: func(context.Context, string) ([]net.IP, error) {
			return nil, &net.DNSError{Err: "no such host", Name: "nope", IsNotFound: true}
		},
		Logger: zap.NewNop(),
	})

	r.Pump(context.Background())
	att := r.Pump(context.Background())
	assert.Equal(t, ResolveFatalError, att.State)
}

func TestResolver_CancellationInterruptsBackoff(t *testing.T) {
	transient := &net.DNSError{Err: "timeout", Name: "x", IsTimeout: true}

	// Real clock: the 30s backoff sleep must end shortly after cancel.
	r := CreateResolver(ResolverParams{
		Host:              "chat.example.org",
		Port:              6667,
		InitialRetryDelay: 30 * time.Second,
		Lookup: func(context.Context, string) ([]net.IP, error) {
			return nil, transient
		},
		Logger: zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.Pump(ctx)
	require.Equal(t, ResolveTransientError, r.Pump(ctx).State)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	att := r.Pump(ctx)
	elapsed := time.Since(start)

	assert.Equal(t, ResolveFatalError, att.State)
	assert.ErrorIs(t, att.Err, context.Canceled)
	assert.Less(t, elapsed, 2*time.Second, "cancellation must cut the sleep short")
}

package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClient struct {
	header string
	err    error
}

func (f *fakeClient) AuthorizationHeader(context.Context) (string, error) {
	return f.header, f.err
}

func TestBrokerSingleFlight(t *testing.T) {
	var builds int32
	b := NewBroker("", zap.NewNop().Sugar(), WithClientBuilder(func(audience string) (HeaderClient, error) {
		atomic.AddInt32(&builds, 1)
		time.Sleep(10 * time.Millisecond) // widen the race window
		return &fakeClient{header: "Bearer tok-" + audience}, nil
	}))

	const callers = 100
	var wg sync.WaitGroup
	errs := make([]error, callers)
	headers := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			headers[i], errs[i] = b.AuthorizationHeader(context.Background(), "https://svc.run.test")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Bearer tok-https://svc.run.test", headers[i])
	}
}

func TestBrokerPerAudienceClients(t *testing.T) {
	var builds int32
	b := NewBroker("", zap.NewNop().Sugar(), WithClientBuilder(func(audience string) (HeaderClient, error) {
		atomic.AddInt32(&builds, 1)
		return &fakeClient{header: "Bearer " + audience}, nil
	}))

	h1, err := b.AuthorizationHeader(context.Background(), "https://a.run.test")
	require.NoError(t, err)
	h2, err := b.AuthorizationHeader(context.Background(), "https://b.run.test")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&builds))

	// Repeat calls reuse the cached clients.
	_, err = b.AuthorizationHeader(context.Background(), "https://a.run.test")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&builds))
}

func TestBrokerFailedBuildIsRetried(t *testing.T) {
	var builds int32
	b := NewBroker("", zap.NewNop().Sugar(), WithClientBuilder(func(string) (HeaderClient, error) {
		if atomic.AddInt32(&builds, 1) == 1 {
			return nil, errors.New("key parse failed")
		}
		return &fakeClient{header: "Bearer ok"}, nil
	}))

	_, err := b.AuthorizationHeader(context.Background(), "aud")
	require.Error(t, err)

	// The failed entry must not poison the cache.
	h, err := b.AuthorizationHeader(context.Background(), "aud")
	require.NoError(t, err)
	assert.Equal(t, "Bearer ok", h)
	assert.Equal(t, int32(2), atomic.LoadInt32(&builds))
}

func TestBrokerHeaderErrorKeepsClient(t *testing.T) {
	var builds int32
	fc := &fakeClient{err: errors.New("token endpoint unreachable")}
	b := NewBroker("", zap.NewNop().Sugar(), WithClientBuilder(func(string) (HeaderClient, error) {
		atomic.AddInt32(&builds, 1)
		return fc, nil
	}))

	_, err := b.AuthorizationHeader(context.Background(), "aud")
	require.Error(t, err)

	fc.err = nil
	fc.header = "Bearer recovered"
	h, err := b.AuthorizationHeader(context.Background(), "aud")
	require.NoError(t, err)
	assert.Equal(t, "Bearer recovered", h)
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds), "transient fetch failure must not rebuild the client")
}

func TestBrokerContextCancellation(t *testing.T) {
	release := make(chan struct{})
	b := NewBroker("", zap.NewNop().Sugar(), WithClientBuilder(func(string) (HeaderClient, error) {
		<-release
		return &fakeClient{header: "Bearer late"}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.AuthorizationHeader(ctx, "aud")
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	h, err := b.AuthorizationHeader(context.Background(), "aud")
	require.NoError(t, err)
	assert.Equal(t, "Bearer late", h)
}

func TestBrokerMaxAgeRebuilds(t *testing.T) {
	var builds int32
	b := NewBroker("", zap.NewNop().Sugar(),
		WithClientMaxAge(time.Millisecond),
		WithClientBuilder(func(string) (HeaderClient, error) {
			atomic.AddInt32(&builds, 1)
			return &fakeClient{header: "Bearer tok"}, nil
		}))

	_, err := b.AuthorizationHeader(context.Background(), "aud")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = b.AuthorizationHeader(context.Background(), "aud")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&builds))
}

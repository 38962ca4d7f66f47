package dexscreener

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		MaxRetries:   3,
		BackoffBase:  time.Millisecond,
		RateLimitRPS: 1000,
		Logger:       zerolog.Nop(),
	})
}

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk(nil, 30))
	assert.Equal(t, [][]string{{"a"}}, chunk([]string{"a"}, 30))

	addrs := make([]string, 31)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("addr%d", i)
	}
	batches := chunk(addrs, 30)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 30)
	assert.Len(t, batches[1], 1)
}

func TestPairsByPairAddressesShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"pairs envelope", `{"pairs":[{"pairAddress":"A"},{"pairAddress":"B"}]}`, 2},
		{"single pair envelope", `{"pair":{"pairAddress":"A"}}`, 1},
		{"bare array", `[{"pairAddress":"A"}]`, 1},
		{"bare pair object", `{"pairAddress":"A","priceUsd":"1.5"}`, 1},
		{"null pairs", `{"pairs":null}`, 0},
		{"empty object", `{}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.True(t, strings.HasPrefix(r.URL.Path, "/latest/dex/pairs/solana/"))
				fmt.Fprint(w, tt.body)
			}))
			pairs, err := c.PairsByPairAddresses(context.Background(), []string{"A"})
			require.NoError(t, err)
			assert.Len(t, pairs, tt.want)
		})
	}
}

func TestPairsByPairAddressesOneRequestPerID(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		fmt.Fprint(w, `{"pairs":[{"pairAddress":"X"}]}`)
	}))

	pairs, err := c.PairsByPairAddresses(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
	require.Equal(t, []string{
		"/latest/dex/pairs/solana/A",
		"/latest/dex/pairs/solana/B",
	}, paths)
}

func TestPairsByPairAddressesSkipsFailedID(t *testing.T) {
	var deadCalls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/DEAD") {
			atomic.AddInt32(&deadCalls, 1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"pairs":[{"pairAddress":"X"}]}`)
	}))

	pairs, err := c.PairsByPairAddresses(context.Background(), []string{"A", "DEAD", "B"})
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
	// The dead id still got its full retry budget before being skipped.
	assert.Equal(t, int32(3), atomic.LoadInt32(&deadCalls))
}

func TestPairsByTokenAddressesSkipsFailedChunk(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The chunk containing tok0 always fails, the rest succeed.
		if strings.Contains(r.URL.Path, "tok0,") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[{"pairAddress":"P"}]`)
	}))

	tokens := make([]string, 31)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok%d", i)
	}
	pairs, err := c.PairsByTokenAddresses(context.Background(), tokens)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestPairsByTokenAddressesBatches(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		parts := strings.Split(r.URL.Path, "/")
		csv := parts[len(parts)-1]
		assert.LessOrEqual(t, len(strings.Split(csv, ",")), 30)
		fmt.Fprint(w, `[{"pairAddress":"P"}]`)
	}))

	tokens := make([]string, 61)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok%d", i)
	}
	pairs, err := c.PairsByTokenAddresses(context.Background(), tokens)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, pairs, 3)
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"pairs":[{"pairAddress":"A"}]}`)
	}))

	pairs, err := c.PairsByPairAddresses(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryOnRateLimitThenGiveUp(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.LatestSolanaTokenProfiles(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientErrorDoesNotRetry(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.LatestSolanaTokenProfiles(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLatestSolanaTokenProfiles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare array", `[{"chainId":"solana","tokenAddress":"T1"},{"chainId":"ethereum","tokenAddress":"E1"},{"chainId":"solana","tokenAddress":"T1"},{"chainId":"solana","tokenAddress":"T2"}]`},
		{"data envelope", `{"data":[{"chainId":"solana","tokenAddress":"T1"},{"chainId":"ethereum","tokenAddress":"E1"},{"chainId":"solana","tokenAddress":"T1"},{"chainId":"solana","tokenAddress":"T2"}]}`},
		{"snake case fields", `{"token_profiles":[{"chain_id":"solana","token_address":"T1"},{"chain_id":"solana","token_address":"T2"}]}`},
		{"address fallback", `[{"chainId":"solana","address":"T1"},{"chainId":"solana","address":"T2"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/token-profiles/latest/v1", r.URL.Path)
				fmt.Fprint(w, tt.body)
			}))
			addrs, err := c.LatestSolanaTokenProfiles(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"T1", "T2"}, addrs)
		})
	}
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stamps = append(stamps, time.Now())
		fmt.Fprint(w, `{"pairs":[{"pairAddress":"A"}]}`)
	}))
	t.Cleanup(srv.Close)

	// 20 rps = 50ms minimum spacing between consecutive requests.
	c := New(Options{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		MaxRetries:   1,
		BackoffBase:  time.Millisecond,
		RateLimitRPS: 20,
		Logger:       zerolog.Nop(),
	})

	_, err := c.PairsByPairAddresses(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, stamps, 2)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 40*time.Millisecond)
}

func TestContextCancellationStopsRetries(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.PairsByPairAddresses(ctx, []string{"A"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

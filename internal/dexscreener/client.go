// Package dexscreener is the hardened HTTP client for the public
// DEX Screener API: rate limited, retried with jittered backoff, and
// fused with a circuit breaker so a flapping upstream cannot stall a
// collection cycle indefinitely.
package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/solscreen/solscreen/internal/config"
	"github.com/solscreen/solscreen/internal/model"
)

const retryJitterMax = 200 * time.Millisecond

// Options configure a Client. Zero values fall back to the compiled
// defaults in internal/config.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	RateLimitRPS float64
	Logger       zerolog.Logger
}

// Client talks to the DEX Screener public endpoints.
type Client struct {
	http        *resty.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	maxRetries  int
	backoffBase time.Duration
	log         zerolog.Logger
}

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = config.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultTimeout
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = config.DefaultMaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = config.DefaultBackoffBase
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = config.DefaultRateLimitRPS
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dexscreener",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Client{
		http:        httpClient,
		limiter:     rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1),
		breaker:     breaker,
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		log:         opts.Logger,
	}
}

// retryableStatus reports whether a status code warrants another attempt.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// getJSON performs one rate-limited, breaker-guarded, retried GET and
// decodes the body. Non-retryable 4xx responses fail immediately.
func (c *Client) getJSON(ctx context.Context, path string) (any, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase*time.Duration(1<<(attempt-1)) +
				time.Duration(rand.Int63n(int64(retryJitterMax)))
			c.log.Debug().
				Str("path", path).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter interrupted: %w", err)
		}

		result, err := c.breaker.Execute(func() (any, error) {
			res, err := c.http.R().SetContext(ctx).Get(path)
			if err != nil {
				return nil, fmt.Errorf("request %s failed: %w", path, err)
			}
			if res.StatusCode() >= 500 {
				return nil, fmt.Errorf("request %s failed: upstream status %d", path, res.StatusCode())
			}
			return res, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("dexscreener circuit open: %w", err)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		res := result.(*resty.Response)
		if retryableStatus(res.StatusCode()) {
			lastErr = fmt.Errorf("request %s failed: upstream status %d", path, res.StatusCode())
			continue
		}
		if res.IsError() {
			return nil, fmt.Errorf("request %s failed: upstream status %d", path, res.StatusCode())
		}

		var decoded any
		if err := json.Unmarshal(res.Body(), &decoded); err != nil {
			return nil, fmt.Errorf("request %s returned invalid json: %w", path, err)
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries, lastErr)
}

// rawPairsFrom extracts pair objects from any of the response shapes the
// upstream uses: a bare array, {"pairs": [...]}, {"pair": {...}}, or a
// bare pair object carrying pairAddress itself.
func rawPairsFrom(decoded any) []model.RawPair {
	collect := func(items []any) []model.RawPair {
		out := make([]model.RawPair, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				out = append(out, model.RawPair(m))
			}
		}
		return out
	}

	switch t := decoded.(type) {
	case []any:
		return collect(t)
	case map[string]any:
		if items, ok := t["pairs"].([]any); ok {
			return collect(items)
		}
		if single, ok := t["pair"].(map[string]any); ok {
			return []model.RawPair{model.RawPair(single)}
		}
		if raw := model.RawPair(t); raw.PairAddress() != "" {
			return []model.RawPair{raw}
		}
	}
	return nil
}

// chunk splits addrs into groups of at most size, preserving order.
func chunk(addrs []string, size int) [][]string {
	var out [][]string
	for len(addrs) > size {
		out = append(out, addrs[:size])
		addrs = addrs[size:]
	}
	if len(addrs) > 0 {
		out = append(out, addrs)
	}
	return out
}

// PairsByPairAddresses fetches current pair objects for the given Solana
// pair addresses. The endpoint accepts a single pair id, so this issues
// one request per address; a pair that fails after all retries is logged
// and skipped rather than failing the whole pass. Addresses the upstream
// no longer knows are silently absent from the result.
func (c *Client) PairsByPairAddresses(ctx context.Context, pairAddresses []string) ([]model.RawPair, error) {
	var all []model.RawPair
	for _, pairID := range pairAddresses {
		path := fmt.Sprintf("/latest/dex/pairs/%s/%s", config.ChainSolana, pairID)
		decoded, err := c.getJSON(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			c.log.Warn().Str("pair", pairID).Err(err).Msg("pair fetch failed, skipping")
			continue
		}
		all = append(all, rawPairsFrom(decoded)...)
	}
	return all, nil
}

// PairsByTokenAddresses fetches all pairs trading any of the given token
// addresses, batching at the API's token limit. A chunk that fails after
// all retries is logged and skipped.
func (c *Client) PairsByTokenAddresses(ctx context.Context, tokenAddresses []string) ([]model.RawPair, error) {
	var all []model.RawPair
	for _, batch := range chunk(tokenAddresses, config.TokensChunkSize) {
		path := fmt.Sprintf("/tokens/v1/%s/%s", config.ChainSolana, strings.Join(batch, ","))
		decoded, err := c.getJSON(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			c.log.Warn().Int("chunk_size", len(batch)).Err(err).Msg("token chunk fetch failed, skipping")
			continue
		}
		all = append(all, rawPairsFrom(decoded)...)
	}
	return all, nil
}

// LatestSolanaTokenProfiles returns the token addresses of the newest
// profile listings on the Solana chain, deduplicated in listing order.
// The endpoint has shipped several envelope shapes; all are accepted.
func (c *Client) LatestSolanaTokenProfiles(ctx context.Context) ([]string, error) {
	decoded, err := c.getJSON(ctx, "/token-profiles/latest/v1")
	if err != nil {
		return nil, err
	}

	items, ok := decoded.([]any)
	if !ok {
		if m, isMap := decoded.(map[string]any); isMap {
			for _, key := range []string{"profiles", "tokenProfiles", "token_profiles", "data"} {
				if wrapped, found := m[key].([]any); found {
					items = wrapped
					break
				}
			}
		}
	}

	seen := make(map[string]struct{})
	var addrs []string
	for _, item := range items {
		profile, ok := item.(map[string]any)
		if !ok {
			continue
		}
		chainID, _ := profile["chainId"].(string)
		if chainID == "" {
			chainID, _ = profile["chain_id"].(string)
		}
		if !strings.EqualFold(chainID, config.ChainSolana) {
			continue
		}
		addr, _ := profile["tokenAddress"].(string)
		if addr == "" {
			addr, _ = profile["token_address"].(string)
		}
		if addr == "" {
			addr, _ = profile["address"].(string)
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

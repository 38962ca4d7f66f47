// Package pipeline orchestrates one collection pass: fetch raw pair
// objects from the API client, normalize them, persist them, and feed the
// dump state machine.
package pipeline

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/solscreen/solscreen/internal/dump"
	"github.com/solscreen/solscreen/internal/model"
	"github.com/solscreen/solscreen/internal/store"
)

// Fetcher is the slice of the API client the collector needs.
type Fetcher interface {
	PairsByPairAddresses(ctx context.Context, pairAddresses []string) ([]model.RawPair, error)
	PairsByTokenAddresses(ctx context.Context, tokenAddresses []string) ([]model.RawPair, error)
}

// CycleStats summarizes one persistence pass. Errors are per-item and
// never abort the pass.
type CycleStats struct {
	Processed int
	Errors    int
	Skipped   int
}

// Collector wires fetch -> normalize -> persist -> state machine.
type Collector struct {
	client Fetcher
	store  *store.Store
	dump   *dump.Updater
	log    zerolog.Logger
	nowMS  func() int64
}

// NewCollector builds a Collector.
func NewCollector(client Fetcher, s *store.Store, du *dump.Updater, log zerolog.Logger) *Collector {
	return &Collector{
		client: client,
		store:  s,
		dump:   du,
		log:    log,
		nowMS:  func() int64 { return time.Now().UnixMilli() },
	}
}

// CollectForTokens fetches all pairs trading the given tokens and
// persists them.
func (c *Collector) CollectForTokens(ctx context.Context, tokenAddresses []string) (CycleStats, error) {
	if len(tokenAddresses) == 0 {
		c.log.Info().Msg("no token addresses provided")
		return CycleStats{}, nil
	}
	c.log.Info().Int("tokens", len(tokenAddresses)).Msg("collecting pairs by token address")
	raws, err := c.client.PairsByTokenAddresses(ctx, tokenAddresses)
	if err != nil {
		return CycleStats{}, err
	}
	return c.persistPairs(ctx, raws), nil
}

// CollectForPairs fetches the given pairs directly and persists them.
func (c *Collector) CollectForPairs(ctx context.Context, pairAddresses []string) (CycleStats, error) {
	if len(pairAddresses) == 0 {
		c.log.Info().Msg("no pair addresses provided")
		return CycleStats{}, nil
	}
	c.log.Info().Int("pairs", len(pairAddresses)).Msg("collecting pairs by pair address")
	raws, err := c.client.PairsByPairAddresses(ctx, pairAddresses)
	if err != nil {
		return CycleStats{}, err
	}
	return c.persistPairs(ctx, raws), nil
}

// CollectFromRawPairs persists only raw objects whose pair address is
// non-empty and not already known. Skipped counts everything filtered out.
func (c *Collector) CollectFromRawPairs(ctx context.Context, raws []model.RawPair, known map[string]struct{}) CycleStats {
	filtered := make([]model.RawPair, 0, len(raws))
	for _, raw := range raws {
		addr := raw.PairAddress()
		if addr == "" {
			continue
		}
		if _, ok := known[addr]; ok {
			continue
		}
		filtered = append(filtered, raw)
	}
	stats := c.persistPairs(ctx, filtered)
	stats.Skipped = len(raws) - len(filtered)
	return stats
}

// persistPairs normalizes and writes raw pairs under one shared snapshot
// timestamp, then runs the dump state machine per persisted pair.
func (c *Collector) persistPairs(ctx context.Context, raws []model.RawPair) CycleStats {
	snapshotTS := c.nowMS()
	stats := CycleStats{}
	for _, raw := range raws {
		snap := model.FromRawPair(raw, snapshotTS)
		if snap.PairAddress == "" {
			c.log.Warn().Msg("skipping pair with empty pair address")
			stats.Errors++
			continue
		}
		if err := c.store.PersistSnapshot(ctx, &snap); err != nil {
			c.log.Warn().Err(err).Str("pair", snap.PairAddress).Msg("failed to persist pair")
			stats.Errors++
			continue
		}
		if err := c.dump.OnSnapshot(ctx, snap.PairAddress); err != nil {
			c.log.Warn().Err(err).Str("pair", snap.PairAddress).Msg("dump watchlist update failed")
			stats.Errors++
			continue
		}
		stats.Processed++
	}
	c.log.Info().Int("processed", stats.Processed).Int("errors", stats.Errors).Msg("persisted pairs")
	return stats
}

// ParseAddressesInput accepts either a path to a CSV file (first column
// holds addresses) or a comma-separated list, and returns the non-empty
// trimmed addresses.
func ParseAddressesInput(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if info, err := os.Stat(value); err == nil && info.Mode().IsRegular() {
		return addressesFromFile(value)
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func addressesFromFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var out []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if len(record) == 0 {
			continue
		}
		addr := strings.TrimSpace(strings.TrimPrefix(record[0], "\ufeff"))
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Package bars implements the columnar bar store: one msgpack column-frame
// file per (scope, asset), replaced atomically on every write.
package bars

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
)

const (
	fileExt     = ".mpk"
	lockStripes = 64
)

// Store reads and writes daily bar files for exactly one market scope.
// A store constructed for US_EU can never touch africa/ files.
type Store struct {
	dir   string
	scope domain.MarketScope
	log   zerolog.Logger
	locks [lockStripes]sync.Mutex
}

// StoreStats summarizes the on-disk state of one scope directory.
type StoreStats struct {
	Scope      domain.MarketScope `json:"scope"`
	Files      int                `json:"files"`
	TotalBytes int64              `json:"total_bytes"`
}

// NewStore creates the scope directory if needed and returns a store bound
// to it.
func NewStore(dir string, scope domain.MarketScope, log zerolog.Logger) (*Store, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("invalid market scope %q", scope)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bar store directory %s: %w", dir, err)
	}
	return &Store{
		dir:   dir,
		scope: scope,
		log:   log.With().Str("component", "bar_store").Str("scope", scope.Dir()).Logger(),
	}, nil
}

// Scope returns the market scope this store is bound to.
func (s *Store) Scope() domain.MarketScope { return s.scope }

// Dir returns the scope directory.
func (s *Store) Dir() string { return s.dir }

func sanitizeFilename(assetID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(assetID)
}

func (s *Store) path(assetID string) string {
	return filepath.Join(s.dir, sanitizeFilename(assetID)+fileExt)
}

// lockFor stripes per-asset mutexes so concurrent rotation and ad-hoc writes
// to the same asset serialize without one global lock.
func (s *Store) lockFor(assetID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(assetID))
	return &s.locks[h.Sum32()%lockStripes]
}

// Save overwrites the asset's bar file with the given series.
func (s *Store) Save(assetID string, series domain.BarSeries) error {
	mu := s.lockFor(assetID)
	mu.Lock()
	defer mu.Unlock()
	return s.saveLocked(assetID, series)
}

func (s *Store) saveLocked(assetID string, series domain.BarSeries) error {
	sorted := make(domain.BarSeries, len(series))
	copy(sorted, series)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	raw, err := encodeFrame(assetID, sorted)
	if err != nil {
		return err
	}

	// Write-to-temp + rename keeps readers consistent under crash.
	tmp, err := os.CreateTemp(s.dir, sanitizeFilename(assetID)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp bar file for %s: %w", assetID, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp bar file for %s: %w", assetID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp bar file for %s: %w", assetID, err)
	}
	if err := os.Rename(tmpPath, s.path(assetID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace bar file for %s: %w", assetID, err)
	}
	return nil
}

// Load returns the stored series ascending by date, or nil when the asset
// has no file yet.
func (s *Store) Load(assetID string) (domain.BarSeries, error) {
	raw, err := os.ReadFile(s.path(assetID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bar file for %s: %w", assetID, err)
	}

	_, series, err := decodeFrame(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bar file for %s: %w", assetID, err)
	}
	return series, nil
}

// Upsert merges newer bars into the stored series (last write wins per date)
// and reports the resulting bar count.
func (s *Store) Upsert(assetID string, newer domain.BarSeries) (int, error) {
	mu := s.lockFor(assetID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.Load(assetID)
	if err != nil {
		return 0, err
	}

	merged := existing.Merge(newer)
	if err := s.saveLocked(assetID, merged); err != nil {
		return 0, err
	}
	return len(merged), nil
}

// GetLastDate returns the most recent bar date, with ok=false when no bars
// are stored.
func (s *Store) GetLastDate(assetID string) (time.Time, bool, error) {
	series, err := s.Load(assetID)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(series) == 0 {
		return time.Time{}, false, nil
	}
	return series.LastDate(), true, nil
}

// GetBarCount returns the number of stored bars; 0 when the file is absent.
func (s *Store) GetBarCount(assetID string) (int, error) {
	series, err := s.Load(assetID)
	if err != nil {
		return 0, err
	}
	return len(series), nil
}

// ListSymbols returns the asset IDs with a bar file, sorted.
func (s *Store) ListSymbols() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list bar store directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteBars removes the asset's bar file. Missing files are not an error.
func (s *Store) DeleteBars(assetID string) error {
	mu := s.lockFor(assetID)
	mu.Lock()
	defer mu.Unlock()

	err := os.Remove(s.path(assetID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete bar file for %s: %w", assetID, err)
	}
	return nil
}

// Stats reports file count and total size for the scope directory.
func (s *Store) Stats() (StoreStats, error) {
	stats := StoreStats{Scope: s.scope}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return stats, fmt.Errorf("failed to stat bar store directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Files++
		stats.TotalBytes += info.Size()
	}
	return stats, nil
}

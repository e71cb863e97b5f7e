// Package lifecycle expires stale cache artifacts: model JSONs and
// clean CSVs after seven days, feature caches after one day.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	modelMaxAge = 7 * 24 * time.Hour
	xyMaxAge    = 24 * time.Hour

	sweepInterval = time.Hour
)

// Sweeper removes expired files under the cache directory.
type Sweeper struct {
	Dir string
	Log *slog.Logger
}

// Run sweeps hourly until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	s.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	now := time.Now()
	removedModels := s.sweepDir(filepath.Join(s.Dir, "models"), now, modelMaxAge, func(name string) bool {
		return strings.HasSuffix(name, "_ppo_pro.json")
	})
	removedClean := s.sweepDir(filepath.Join(s.Dir, "clean"), now, modelMaxAge, func(name string) bool {
		return strings.HasSuffix(name, ".csv")
	})
	removedXY := s.sweepDir(filepath.Join(s.Dir, "xy"), now, xyMaxAge, func(string) bool { return true })

	if removedModels+removedClean+removedXY > 0 {
		s.Log.Info("lifecycle sweep",
			slog.Int("models", removedModels),
			slog.Int("clean", removedClean),
			slog.Int("xy", removedXY))
	}
}

func (s *Sweeper) sweepDir(dir string, now time.Time, maxAge time.Duration, match func(string) bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed
}

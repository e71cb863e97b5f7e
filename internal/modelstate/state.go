// Package modelstate holds the process-wide current model: one
// immutable artifact snapshot plus derived atomics for the hot
// read paths.
package modelstate

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync/atomic"

	"trade-signalv1/internal/model"
)

// Safe defaults used when no artifact is installed.
const (
	DefaultThr     = 0.38
	DefaultMaLen   = 12
	DefaultFeatDim = 28
)

// State is the shared model record. Readers take a consistent snapshot
// via a single pointer load; writers publish a new immutable artifact
// and then refresh the derived atomics.
type State struct {
	artifact atomic.Pointer[model.Artifact]

	thr     atomic.Uint64 // float64 bits
	maLen   atomic.Int64
	featDim atomic.Int64
}

// New creates a State carrying safe defaults and an empty artifact.
func New() *State {
	s := &State{}
	s.artifact.Store(&model.Artifact{})
	s.SetThr(DefaultThr)
	s.SetMaLen(DefaultMaLen)
	s.SetFeatDim(DefaultFeatDim)
	return s
}

// Snapshot returns the current artifact. The pointee is immutable;
// callers must not mutate it.
func (s *State) Snapshot() *model.Artifact {
	return s.artifact.Load()
}

// Install publishes a new artifact and refreshes the derived atomics
// from it. The atomics may transiently trail the pointer; any reader
// that needs full consistency reads the snapshot alone.
func (s *State) Install(a *model.Artifact) {
	if a == nil {
		a = &model.Artifact{}
	}
	s.artifact.Store(a)
	if a.BestThr > 0 {
		s.SetThr(a.BestThr)
	}
	if a.MaLen > 0 {
		s.SetMaLen(int64(a.MaLen))
	}
	if a.Policy.FeatDim > 0 {
		s.SetFeatDim(int64(a.Policy.FeatDim))
	}
}

// Thr returns the current decision threshold.
func (s *State) Thr() float64 { return math.Float64frombits(s.thr.Load()) }

// SetThr overrides the decision threshold atomically.
func (s *State) SetThr(v float64) { s.thr.Store(math.Float64bits(v)) }

// MaLen returns the current moving-average length.
func (s *State) MaLen() int64 { return s.maLen.Load() }

// SetMaLen overrides the moving-average length atomically.
func (s *State) SetMaLen(v int64) { s.maLen.Store(v) }

// FeatDim returns the current feature dimension.
func (s *State) FeatDim() int64 { return s.featDim.Load() }

// SetFeatDim overrides the feature dimension atomically.
func (s *State) SetFeatDim(v int64) { s.featDim.Store(v) }

// LoadArtifact reads and validates a model artifact from disk.
// Artifacts below the minimum version or with an inconsistent policy
// are rejected with ErrModelInvalid.
func LoadArtifact(path string) (*model.Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", model.ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	var a model.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", model.ErrModelInvalid, path, err)
	}
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %s", model.ErrModelInvalid, path)
	}
	return &a, nil
}

// InitFromDisk installs the artifact at path when present and valid;
// otherwise the safe defaults stay in place. The returned error is for
// logging only — startup proceeds either way.
func (s *State) InitFromDisk(path string) error {
	a, err := LoadArtifact(path)
	if err != nil {
		return err
	}
	s.Install(a)
	return nil
}

// SaveArtifact writes the artifact to path atomically: temp file then
// rename, so a reader never observes a partial model.
func SaveArtifact(path string, a *model.Artifact) error {
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename artifact %s: %w", path, err)
	}
	return nil
}

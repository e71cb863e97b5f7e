package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"testing"

	"trade-signalv1/internal/candlestore"
	"trade-signalv1/internal/features"
	"trade-signalv1/internal/model"
	"trade-signalv1/internal/modelstate"
)

// seedStore writes an n-row gap-free 15m up-trend (close proportional
// to the bar index) into a fresh store.
func seedStore(t *testing.T, n int) *candlestore.Store {
	t.Helper()
	store, err := candlestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	data := make(map[int64]string)
	base := int64(1_700_000_100_000)
	base -= base % 900_000
	for i := 0; i < n; i++ {
		ts := base + int64(i)*900_000
		c := 100.0 + float64(i)*0.25
		data[ts] = fmt.Sprintf("%d,%g,%g,%g,%g,10", ts, c-0.1, c+0.3, c-0.3, c)
	}
	if err := store.Write("BTCUSDT", "15", data); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteClean("BTCUSDT", "15", data); err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestTrainer(store *candlestore.Store) (*Trainer, *modelstate.State) {
	state := modelstate.New()
	tr := New(store, state, nil, slog.Default())
	tr.Seed = 42
	return tr, state
}

func TestTrainUpTrend(t *testing.T) {
	store := seedStore(t, 400)
	tr, state := newTestTrainer(store)

	res, err := tr.Train(context.Background(), "BTCUSDT", "15", 40, 0.008, 0.0032, 12, true)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if !res.OK {
		t.Fatal("result not ok")
	}
	if res.BestThr <= 0 || res.BestThr >= 1 {
		t.Errorf("best_thr = %v, want (0,1)", res.BestThr)
	}
	if res.Metrics.FeatDim != features.Dim {
		t.Errorf("feat_dim = %d, want %d", res.Metrics.FeatDim, features.Dim)
	}
	if _, err := os.Stat(res.ModelPath); err != nil {
		t.Errorf("model file missing: %v", err)
	}

	// The artifact must satisfy the install invariant and be current.
	if !res.Artifact.Valid() {
		t.Error("artifact invalid")
	}
	snap := state.Snapshot()
	if snap.BestThr != res.BestThr {
		t.Errorf("state thr = %v, want %v", snap.BestThr, res.BestThr)
	}
	if state.FeatDim() != int64(features.Dim) {
		t.Errorf("state feat_dim = %d", state.FeatDim())
	}
}

func TestTrainRoundTrip(t *testing.T) {
	store := seedStore(t, 300)
	tr, _ := newTestTrainer(store)

	res, err := tr.Train(context.Background(), "BTCUSDT", "15", 5, 0.008, 0.0032, 12, false)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := modelstate.LoadArtifact(res.ModelPath)
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	a := res.Artifact
	if loaded.BestThr != a.BestThr || loaded.MaLen != a.MaLen {
		t.Errorf("round trip thr/ma mismatch")
	}
	if loaded.Policy.FeatDim != a.Policy.FeatDim {
		t.Errorf("feat_dim mismatch")
	}
	for i := range a.Policy.W {
		if loaded.Policy.W[i] != a.Policy.W[i] {
			t.Fatalf("W[%d] mismatch", i)
		}
	}
	if loaded.Policy.B[0] != a.Policy.B[0] {
		t.Error("b mismatch")
	}
	if loaded.Policy.Norm == nil {
		t.Fatal("norm not persisted")
	}
	for i := range a.Policy.Norm.Mu {
		if loaded.Policy.Norm.Mu[i] != a.Policy.Norm.Mu[i] || loaded.Policy.Norm.Sd[i] != a.Policy.Norm.Sd[i] {
			t.Fatalf("norm[%d] mismatch", i)
		}
	}
}

func TestTrainNotEnoughData(t *testing.T) {
	store := seedStore(t, 100)
	tr, _ := newTestTrainer(store)

	_, err := tr.Train(context.Background(), "BTCUSDT", "15", 5, 0.008, 0.0032, 12, false)
	if !errors.Is(err, model.ErrNotEnoughData) {
		t.Errorf("err = %v, want ErrNotEnoughData", err)
	}
}

func TestTrainInvalidInterval(t *testing.T) {
	store := seedStore(t, 300)
	tr, _ := newTestTrainer(store)

	_, err := tr.Train(context.Background(), "BTCUSDT", "7", 5, 0.008, 0.0032, 12, false)
	if !errors.Is(err, model.ErrInvalidInterval) {
		t.Errorf("err = %v, want ErrInvalidInterval", err)
	}
}

func TestTrainLeavesArtifactUntouchedOnFailure(t *testing.T) {
	store := seedStore(t, 300)
	tr, _ := newTestTrainer(store)

	res, err := tr.Train(context.Background(), "BTCUSDT", "15", 3, 0.008, 0.0032, 12, false)
	if err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(res.ModelPath)
	if err != nil {
		t.Fatal(err)
	}

	// A failing run (no data for this symbol) must not disturb the
	// artifact on disk.
	if _, err := tr.Train(context.Background(), "ETHUSDT", "15", 3, 0.008, 0.0032, 12, false); err == nil {
		t.Fatal("expected failure for missing store")
	}
	after, err := os.ReadFile(res.ModelPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("artifact changed by a failed run")
	}
}

func TestRealizePnL(t *testing.T) {
	mk := func(c0, hi, lo, c1 float64) [][]float64 {
		return [][]float64{
			{0, c0, c0, c0, c0, 1},
			{1, c1, hi, lo, c1, 1},
		}
	}
	tp, sl := 0.01, 0.005

	// Long stop: next bar dips through -sl.
	if r := realizePnL(mk(100, 100.2, 99.0, 100.1), 0, 1, tp, sl); r != -sl {
		t.Errorf("long stop r = %v, want %v", r, -sl)
	}
	// Long take-profit: next bar spikes through +tp.
	if r := realizePnL(mk(100, 101.5, 99.9, 100.5), 0, 1, tp, sl); r != tp {
		t.Errorf("long tp r = %v, want %v", r, tp)
	}
	// Long drift: close-to-close return inside the band.
	if r := realizePnL(mk(100, 100.3, 99.9, 100.2), 0, 1, tp, sl); math.Abs(r-0.002) > 1e-12 {
		t.Errorf("long drift r = %v, want 0.002", r)
	}
	// Short stop: next bar rallies through +sl.
	if r := realizePnL(mk(100, 100.6, 99.9, 100.4), 0, -1, tp, sl); r != -sl {
		t.Errorf("short stop r = %v, want %v", r, -sl)
	}
	// Short take-profit: next bar drops through -tp.
	if r := realizePnL(mk(100, 100.2, 98.5, 99.2), 0, -1, tp, sl); r != tp {
		t.Errorf("short tp r = %v, want %v", r, tp)
	}
	// Tight tp: the next bar's high crosses tp, so the realized return
	// is capped at tp.
	if r := realizePnL(mk(100, 100.4, 99.8, 100.2), 0, 1, 0.001, 0.005); r > 0.001 {
		t.Errorf("clamp r = %v, want <= tp", r)
	}
}

func TestStandardizeProducesUnitColumns(t *testing.T) {
	f := [][]float64{{1, 10}, {2, 20}, {3, 30}, {4, 40}}
	norm := standardize(f)
	if norm == nil || len(norm.Mu) != 2 {
		t.Fatal("norm missing")
	}
	for j := 0; j < 2; j++ {
		mu := 0.0
		for i := range f {
			mu += f[i][j]
		}
		mu /= float64(len(f))
		if math.Abs(mu) > 1e-9 {
			t.Errorf("col %d mean = %v after standardize", j, mu)
		}
	}
	if norm.Mu[0] != 2.5 || norm.Mu[1] != 25 {
		t.Errorf("norm mu = %v", norm.Mu)
	}
}

package candlestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"trade-signalv1/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestReadTolerantParsing(t *testing.T) {
	s := newTestStore(t)
	path := s.RawPath("BTCUSDT", "15")
	content := "ts,open,high,low,close,volume\n" + // header row: skipped
		"\xef\xbb\xbf1700000000000,1,2,0.5,1.5,10\n" + // BOM prefix: accepted
		"  1700000900000 ,1.5,2.5,1,2,11\n" + // padded int: accepted
		"garbage,1,2,3,4,5\n" + // non-numeric ts: skipped
		"1700000900000,9,9,9,9,9\n" // duplicate: overwrites
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	data, skipped, err := s.Read("BTCUSDT", "15")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if len(data) != 2 {
		t.Fatalf("rows = %d, want 2", len(data))
	}
	if line := data[1700000900000]; line != "1700000900000,9,9,9,9,9" {
		t.Errorf("duplicate did not overwrite: %q", line)
	}
}

func TestReadMissingFile(t *testing.T) {
	s := newTestStore(t)
	data, skipped, err := s.Read("NONE", "15")
	if err != nil {
		t.Fatalf("Read missing: %v", err)
	}
	if len(data) != 0 || skipped != 0 {
		t.Errorf("want empty mapping, got %d rows %d skipped", len(data), skipped)
	}
}

func TestWriteAscendingOrder(t *testing.T) {
	s := newTestStore(t)
	data := map[int64]string{
		1700001800000: "1700001800000,3,3,3,3,3",
		1700000000000: "1700000000000,1,1,1,1,1",
		1700000900000: "1700000900000,2,2,2,2,2",
	}
	if err := s.Write("BTCUSDT", "15", data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, err := os.ReadFile(s.RawPath("BTCUSDT", "15"))
	if err != nil {
		t.Fatal(err)
	}
	want := "1700000000000,1,1,1,1,1\n1700000900000,2,2,2,2,2\n1700001800000,3,3,3,3,3\n"
	if string(raw) != want {
		t.Errorf("unexpected file contents:\n%s", raw)
	}
}

func TestLoadOHLCVPrefersCleanAndTrims(t *testing.T) {
	s := newTestStore(t)
	// Raw has a 7th column; no clean variant yet.
	raw := map[int64]string{
		1700000000000: "1700000000000,1,2,0.5,1.5,10,999",
		1700000900000: "1700000900000,1.5,2.5,1,2,11,999",
	}
	if err := s.Write("ETHUSDT", "15", raw); err != nil {
		t.Fatal(err)
	}

	m, usedClean, err := s.LoadOHLCV("ETHUSDT", "15")
	if err != nil {
		t.Fatalf("LoadOHLCV raw: %v", err)
	}
	if usedClean {
		t.Error("usedClean = true without a clean variant")
	}
	if len(m) != 2 || len(m[0]) != 6 {
		t.Fatalf("shape = %dx%d, want 2x6", len(m), len(m[0]))
	}
	if m[0][model.ColClose] != 1.5 || m[1][model.ColVolume] != 11 {
		t.Errorf("unexpected values: %v", m)
	}

	// Clean variant takes precedence once present.
	if err := s.WriteClean("ETHUSDT", "15", raw); err != nil {
		t.Fatal(err)
	}
	_, usedClean, err = s.LoadOHLCV("ETHUSDT", "15")
	if err != nil {
		t.Fatalf("LoadOHLCV clean: %v", err)
	}
	if !usedClean {
		t.Error("usedClean = false with clean variant present")
	}
}

func TestLoadOHLCVBadShape(t *testing.T) {
	s := newTestStore(t)
	path := s.RawPath("BAD", "15")
	if err := os.WriteFile(path, []byte("1700000000000,1,2,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := s.LoadOHLCV("BAD", "15")
	if !errors.Is(err, model.ErrBadShape) {
		t.Errorf("err = %v, want ErrBadShape", err)
	}
}

func TestWriteCleanTrimsToSix(t *testing.T) {
	s := newTestStore(t)
	data := map[int64]string{
		1700000000000: "1700000000000,1,2,0.5,1.5,10,999",
	}
	if err := s.WriteClean("BTCUSDT", "15", data); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(s.CleanPath("BTCUSDT", "15"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "1700000000000,1,2,0.5,1.5,10\n" {
		t.Errorf("clean line not trimmed: %q", raw)
	}
}

func TestHasGaps15m(t *testing.T) {
	dir := t.TempDir()
	contiguous := filepath.Join(dir, "ok.csv")
	gapped := filepath.Join(dir, "gap.csv")
	os.WriteFile(contiguous, []byte("1700000000000,1,1,1,1,1\n1700000900000,1,1,1,1,1\n1700001800000,1,1,1,1,1\n"), 0o644)
	os.WriteFile(gapped, []byte("1700000000000,1,1,1,1,1\n1700001800000,1,1,1,1,1\n"), 0o644)

	if got, err := HasGaps15m(contiguous); err != nil || got {
		t.Errorf("contiguous: gaps=%v err=%v", got, err)
	}
	if got, err := HasGaps15m(gapped); err != nil || !got {
		t.Errorf("gapped: gaps=%v err=%v", got, err)
	}
}

func TestGapRanges(t *testing.T) {
	keys := []int64{0, 900_000, 3_600_000}
	ranges := GapRanges(keys, 900_000)
	if len(ranges) != 1 {
		t.Fatalf("ranges = %v, want one", ranges)
	}
	if ranges[0][0] != 1_800_000 || ranges[0][1] != 2_700_000 {
		t.Errorf("range = %v", ranges[0])
	}
}

func TestHealthReport(t *testing.T) {
	s := newTestStore(t)
	data := map[int64]string{
		1700000000000: "1700000000000,1,1,1,1,1",
		1700000900000: "1700000900000,1,1,1,1,1",
		1700002700000: "1700002700000,1,1,1,1,1", // one missing bar before this
	}
	if err := s.Write("BTCUSDT", "15", data); err != nil {
		t.Fatal(err)
	}
	h := s.HealthReport("BTCUSDT", "15")
	if !h.OK || h.Rows != 3 || h.Gaps != 1 {
		t.Errorf("health = %+v", h)
	}
	if h.TsMin != 1700000000000 || h.TsMax != 1700002700000 {
		t.Errorf("range = [%d, %d]", h.TsMin, h.TsMax)
	}
}

// Package candlestore owns the on-disk candle cache: one canonical CSV
// per (symbol, timeframe) pair plus a cleaned 6-column variant.
package candlestore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"trade-signalv1/internal/model"
	"trade-signalv1/internal/symbols"
)

// Store reads and writes candle CSVs under a cache directory.
// Layout:
//
//	<dir>/<SYMBOL>_<TF>.csv        raw merged store (may carry a 7th column)
//	<dir>/clean/<SYMBOL>_<TF>.csv  cleaned variant, exactly 6 columns
//	<dir>/models/<SYMBOL>_<TF>_ppo_pro.json
type Store struct {
	Dir string
}

// New creates a Store rooted at dir and ensures the layout exists.
func New(dir string) (*Store, error) {
	for _, d := range []string{dir, filepath.Join(dir, "clean"), filepath.Join(dir, "models"), filepath.Join(dir, "logs"), filepath.Join(dir, "xy")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("candlestore mkdir %s: %w", d, err)
		}
	}
	return &Store{Dir: dir}, nil
}

// RawPath returns the raw store path for (symbol, tf).
func (s *Store) RawPath(symbol, tf string) string {
	return filepath.Join(s.Dir, strings.ToUpper(symbol)+"_"+tf+".csv")
}

// CleanPath returns the clean variant path for (symbol, tf).
func (s *Store) CleanPath(symbol, tf string) string {
	return filepath.Join(s.Dir, "clean", strings.ToUpper(symbol)+"_"+tf+".csv")
}

// ModelPath returns the model artifact path for (symbol, tf).
func (s *Store) ModelPath(symbol, tf string) string {
	return filepath.Join(s.Dir, "models", strings.ToUpper(symbol)+"_"+tf+"_ppo_pro.json")
}

// TelemetryPath is the rolling train telemetry file.
func (s *Store) TelemetryPath() string {
	return filepath.Join(s.Dir, "logs", "last_train_telemetry.json")
}

// XYPaths returns the optional feature cache file pair for (symbol, tf).
func (s *Store) XYPaths(symbol, tf string) (string, string) {
	base := filepath.Join(s.Dir, "xy", strings.ToUpper(symbol)+"_"+tf)
	return base + "_X.csv", base + "_y.csv"
}

// ParseTS is the tolerant timestamp parser: accepts an optional UTF-8
// BOM and surrounding whitespace around a decimal integer.
func ParseTS(field string) (int64, bool) {
	f := strings.TrimPrefix(field, "\ufeff")
	f = strings.TrimSpace(f)
	if f == "" {
		return 0, false
	}
	ts, err := strconv.ParseInt(f, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// Read parses the raw CSV for (symbol, tf) into a mapping from bar
// timestamp to the full canonical line. Lines whose first field is not
// a parseable integer are skipped and counted; duplicate timestamps
// overwrite earlier ones. A missing or empty file yields an empty map.
func (s *Store) Read(symbol, tf string) (map[int64]string, int, error) {
	return ReadFile(s.RawPath(symbol, tf))
}

// ReadFile is Read for an explicit path.
func ReadFile(path string) (map[int64]string, int, error) {
	out := make(map[int64]string)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, 0, nil
		}
		return nil, 0, fmt.Errorf("candlestore read %s: %w", path, err)
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		first := line
		if i := strings.IndexByte(line, ','); i >= 0 {
			first = line[:i]
		}
		ts, ok := ParseTS(first)
		if !ok {
			skipped++
			continue
		}
		out[ts] = line
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("candlestore scan %s: %w", path, err)
	}
	return out, skipped, nil
}

// Write truncates and rewrites the raw store for (symbol, tf) in
// ascending timestamp order. The rewrite goes through a temp file and
// rename so readers never observe a partial store.
func (s *Store) Write(symbol, tf string, data map[int64]string) error {
	return writeLines(s.RawPath(symbol, tf), data, false)
}

// WriteClean rewrites the clean variant, trimming every line to its
// first six columns.
func (s *Store) WriteClean(symbol, tf string, data map[int64]string) error {
	return writeLines(s.CleanPath(symbol, tf), data, true)
}

func writeLines(path string, data map[int64]string, trimSix bool) error {
	keys := make([]int64, 0, len(data))
	for ts := range data {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("candlestore create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	for _, ts := range keys {
		line := data[ts]
		if trimSix {
			line = trimToSix(line)
		}
		if _, err := w.WriteString(line); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("candlestore write %s: %w", tmp, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("candlestore write %s: %w", tmp, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("candlestore flush %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("candlestore close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("candlestore rename %s: %w", path, err)
	}
	return nil
}

func trimToSix(line string) string {
	n := 0
	for i := 0; i < len(line); i++ {
		if line[i] == ',' {
			n++
			if n == 6 {
				return line[:i]
			}
		}
	}
	return line
}

// LoadOHLCV loads the N x 6 matrix for (symbol, tf), preferring the
// clean variant and falling back to the raw store. Raw rows carrying a
// seventh column are trimmed to six; anything else that is not exactly
// six parseable columns fails with ErrBadShape. The returned bool
// reports whether the clean variant was used.
func (s *Store) LoadOHLCV(symbol, tf string) ([][]float64, bool, error) {
	path := s.CleanPath(symbol, tf)
	usedClean := true
	if _, err := os.Stat(path); err != nil {
		path = s.RawPath(symbol, tf)
		usedClean = false
	}

	lines, _, err := ReadFile(path)
	if err != nil {
		return nil, usedClean, err
	}

	keys := make([]int64, 0, len(lines))
	for ts := range lines {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([][]float64, 0, len(keys))
	for _, ts := range keys {
		fields := strings.Split(lines[ts], ",")
		if len(fields) > model.NumCols {
			fields = fields[:model.NumCols]
		}
		if len(fields) != model.NumCols {
			return nil, usedClean, fmt.Errorf("%w: %s has %d cols, need %d", model.ErrBadShape, path, len(fields), model.NumCols)
		}
		row := make([]float64, model.NumCols)
		row[model.ColTS] = float64(ts)
		ok := true
		for j := 1; j < model.NumCols; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(fields[j]), 64)
			if err != nil {
				ok = false
				break
			}
			row[j] = v
		}
		if !ok {
			continue
		}
		out = append(out, row)
	}
	return out, usedClean, nil
}

// HasGaps15m reports whether any adjacent pair of timestamps in the
// given CSV differs from the 15-minute frame of 900_000 ms.
func HasGaps15m(path string) (bool, error) {
	return HasGaps(path, symbols.FrameMS("15"))
}

// HasGaps reports whether any adjacent pair of timestamps in the file
// differs from frameMS.
func HasGaps(path string, frameMS int64) (bool, error) {
	lines, _, err := ReadFile(path)
	if err != nil {
		return true, err
	}
	keys := make([]int64, 0, len(lines))
	for ts := range lines {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for i := 1; i < len(keys); i++ {
		if keys[i]-keys[i-1] != frameMS {
			return true, nil
		}
	}
	return false, nil
}

// GapRanges returns the [from, to] millisecond ranges (inclusive bar
// starts) missing from the sorted timestamp set for the given frame.
func GapRanges(keys []int64, frameMS int64) [][2]int64 {
	var out [][2]int64
	for i := 1; i < len(keys); i++ {
		d := keys[i] - keys[i-1]
		if d > frameMS {
			out = append(out, [2]int64{keys[i-1] + frameMS, keys[i] - frameMS})
		}
	}
	return out
}

// Health describes one (symbol, tf) store for observability.
type Health struct {
	OK     bool   `json:"ok"`
	Symbol string `json:"symbol"`
	TF     string `json:"interval"`
	Rows   int    `json:"rows"`
	Gaps   int    `json:"gaps"`
	Dups   int    `json:"dups"`
	TsMin  int64  `json:"ts_min"`
	TsMax  int64  `json:"ts_max"`
}

// HealthReport probes the preferred store variant for (symbol, tf) and
// reports row count, gap count and time range.
func (s *Store) HealthReport(symbol, tf string) Health {
	h := Health{Symbol: strings.ToUpper(symbol), TF: tf}
	path := s.CleanPath(symbol, tf)
	if _, err := os.Stat(path); err != nil {
		path = s.RawPath(symbol, tf)
	}
	lines, _, err := ReadFile(path)
	if err != nil || len(lines) == 0 {
		return h
	}
	keys := make([]int64, 0, len(lines))
	for ts := range lines {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	frame := symbols.FrameMS(tf)
	for i := 1; i < len(keys); i++ {
		if keys[i]-keys[i-1] > frame {
			h.Gaps++
		}
	}
	h.OK = true
	h.Rows = len(keys)
	h.TsMin = keys[0]
	h.TsMax = keys[len(keys)-1]
	return h
}

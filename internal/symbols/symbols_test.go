package symbols

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"MATICUSDT", "POLUSDT"},
		{"maticusdt", "POLUSDT"},
		{"XBTUSDT", "BTCUSDT"},
		{"BCCUSDT", "BCHUSDT"},
		{" btcusdt ", "BTCUSDT"},
		{"ETHUSDT", "ETHUSDT"},
		{"sol usdt", "SOLUSDT"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalInterval(t *testing.T) {
	for _, tf := range Intervals() {
		if got := CanonicalInterval(tf); got != tf {
			t.Errorf("CanonicalInterval(%q) = %q", tf, got)
		}
	}
	if got := CanonicalInterval("15m"); got != "15" {
		t.Errorf("CanonicalInterval(15m) = %q, want 15", got)
	}
	if got := CanonicalInterval("5"); got != "" {
		t.Errorf("CanonicalInterval(5) = %q, want empty", got)
	}
}

func TestFrameMS(t *testing.T) {
	// tf_ms(tf) = minutes(tf) * 60_000 for every canonical interval
	want := map[string]int64{
		"15":   900_000,
		"60":   3_600_000,
		"240":  14_400_000,
		"1440": 86_400_000,
	}
	for tf, ms := range want {
		if got := FrameMS(tf); got != ms {
			t.Errorf("FrameMS(%s) = %d, want %d", tf, got, ms)
		}
	}
}

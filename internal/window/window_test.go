package window

import (
	"errors"
	"testing"
	"time"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		start int
		end   int
	}{
		{"en dash", "14:00–14:30", 14 * 60, 14*60 + 30},
		{"hyphen", "14:00-14:30", 14 * 60, 14*60 + 30},
		{"spaces", " 09:15 – 10:00 ", 9*60 + 15, 10 * 60},
		{"bare start gets 30m span", "06:00", 6 * 60, 6*60 + 30},
		{"bare start near midnight wraps", "23:50", 23*60 + 50, 20},
		{"overnight", "23:30–00:15", 23*60 + 30, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse(tt.text)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.text, err)
			}
			if r.Start != tt.start || r.End != tt.end {
				t.Errorf("Parse(%q) = {%d, %d}, want {%d, %d}", tt.text, r.Start, r.End, tt.start, tt.end)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	for _, text := range []string{"", "garbage", "25:00–26:00", "14:xx–15:00", "1400-1500", "14:00–", "14:-1"} {
		if _, err := Parse(text); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q) error = %v, want ErrMalformed", text, err)
		}
	}
}

func TestContainsSimpleWindow(t *testing.T) {
	r := Range{Start: 14 * 60, End: 14*60 + 30} // 14:00–14:30

	tests := []struct {
		minute    int
		tolerance int
		want      bool
	}{
		{14*60 + 15, 0, true},   // inside
		{13*60 + 47, 15, true},  // 13 minutes early, inside tolerance
		{13*60 + 44, 15, false}, // 16 minutes early, outside tolerance
		{14*60 + 44, 15, true},  // lingering past end
		{15*60 + 0, 15, false},  // well past end
		{14 * 60, 0, true},      // boundary start
		{14*60 + 30, 0, true},   // boundary end
	}

	for _, tt := range tests {
		if got := r.Contains(tt.minute, tt.tolerance); got != tt.want {
			t.Errorf("Contains(%d, tol=%d) = %v, want %v", tt.minute, tt.tolerance, got, tt.want)
		}
	}
}

func TestContainsMidnightWraparound(t *testing.T) {
	r := Range{Start: 23*60 + 30, End: 15} // 23:30–00:15

	tests := []struct {
		minute    int
		tolerance int
		want      bool
	}{
		{5, 0, true},           // just after midnight, before end
		{23*60 + 45, 0, true},  // before midnight, inside
		{23*60 + 14, 15, false}, // just before start minus tolerance
		{23*60 + 16, 15, true}, // within leading tolerance
		{25, 15, true},         // trailing tolerance past end
		{45, 15, false},        // past end plus tolerance
		{12 * 60, 15, false},   // midday, nowhere near
	}

	for _, tt := range tests {
		if got := r.Contains(tt.minute, tt.tolerance); got != tt.want {
			t.Errorf("Contains(%d, tol=%d) = %v, want %v", tt.minute, tt.tolerance, got, tt.want)
		}
	}
}

func TestContainsEarlyWindowWithNegativeToleranceStart(t *testing.T) {
	// 00:05–00:30 with 15m tolerance reaches back across midnight to 23:50.
	r := Range{Start: 5, End: 30}

	if !r.Contains(23*60+55, 15) {
		t.Error("23:55 should fall inside the leading tolerance of 00:05–00:30")
	}
	if r.Contains(23*60+45, 15) {
		t.Error("23:45 should fall outside the leading tolerance of 00:05–00:30")
	}
}

func TestMatch(t *testing.T) {
	at := func(hour, min int) time.Time {
		return time.Date(2026, 8, 28, hour, min, 0, 0, time.UTC)
	}

	ok, err := Match(at(13, 47), "14:00–14:30", 15)
	if err != nil {
		t.Fatalf("Match error: %v", err)
	}
	if !ok {
		t.Error("13:47 should match 14:00–14:30 with 15m tolerance")
	}

	ok, err = Match(at(13, 30), "14:00–14:30", 15)
	if err != nil {
		t.Fatalf("Match error: %v", err)
	}
	if ok {
		t.Error("13:30 should not match 14:00–14:30 with 15m tolerance")
	}

	if _, err := Match(at(12, 0), "whenever", 15); !errors.Is(err, ErrMalformed) {
		t.Errorf("Match on malformed text error = %v, want ErrMalformed", err)
	}
}

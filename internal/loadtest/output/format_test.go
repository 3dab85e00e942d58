package output

import (
	"testing"
	"time"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{6 * time.Minute, "6m 00s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
		{90 * time.Second, "1.5m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDurationShort(tt.duration); got != tt.expected {
				t.Errorf("formatDurationShort(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0s"},
		{250 * time.Microsecond, "250.00µs"},
		{12340 * time.Microsecond, "12.34ms"},
		{2500 * time.Millisecond, "2.50s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatLatency(tt.duration); got != tt.expected {
				t.Errorf("formatLatency(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestFormatTrendStat(t *testing.T) {
	trend := &metrics.TrendSnapshot{Count: 7, Sum: 70 * time.Millisecond, MinVal: 2 * time.Millisecond, MaxVal: 30 * time.Millisecond}

	tests := []struct {
		stat     string
		expected string
	}{
		{"count", "count=7"},
		{"max", "max=30.00ms"},
		{"min", "min=2.00ms"},
		{"avg", "avg=10.00ms"},
	}

	for _, tt := range tests {
		t.Run(tt.stat, func(t *testing.T) {
			stat, err := metrics.ParseTrendStat(tt.stat)
			if err != nil {
				t.Fatalf("ParseTrendStat(%q) error = %v", tt.stat, err)
			}
			if got := formatTrendStat(trend, stat); got != tt.expected {
				t.Errorf("formatTrendStat(%s) = %q, want %q", tt.stat, got, tt.expected)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatNumber(tt.number); got != tt.expected {
				t.Errorf("formatNumber(%d) = %q, want %q", tt.number, got, tt.expected)
			}
		})
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"\033[32mgreen\033[0m", "green"},
		{"\033[1;31mbold red\033[0m text", "bold red text"},
	}

	for _, tt := range tests {
		if got := stripANSI(tt.input); got != tt.expected {
			t.Errorf("stripANSI(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestVisibleLen(t *testing.T) {
	if got := visibleLen("\033[36m│\033[0m ✓"); got != 3 {
		t.Errorf("visibleLen() = %d, want 3", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n        int64
		expected string
	}{
		{512, "512 B"},
		{2048, "2.00 KB"},
		{3 * 1024 * 1024, "3.00 MB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.expected {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.expected)
		}
	}
}

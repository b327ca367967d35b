package cli

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0ms"},
		{800 * time.Microsecond, "0ms"},
		{42 * time.Millisecond, "42ms"},
		{999 * time.Millisecond, "999ms"},
		{time.Second, "1.0s"},
		{2300 * time.Millisecond, "2.3s"},
		{59 * time.Second, "59.0s"},
		{time.Minute, "1m0.0s"},
		{3*time.Minute + 7500*time.Millisecond, "3m7.5s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{231508, "226.08 KB"},   // vocab.txt
		{90405214, "86.22 MB"},  // all-MiniLM-L6-v2 model.onnx
		{1340 << 20, "1.31 GB"}, // bge-large model.onnx
		{3 << 40, "3.00 TB"},
		{2048 << 40, "2048.00 TB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

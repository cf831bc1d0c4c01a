// ABOUTME: Tests for the polyphase resampler
// ABOUTME: Checks output length and signal preservation across rates
package resample

import (
	"math"
	"testing"
)

func TestParseQuality(t *testing.T) {
	tests := []struct {
		input    string
		expected Quality
		wantErr  bool
	}{
		{"linear", QualityLinear, false},
		{"medium", QualityMedium, false},
		{"high", QualityHigh, false},
		{"", QualityHigh, false},
		{"ultra", QualityHigh, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			q, err := ParseQuality(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if q != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, q)
			}
		})
	}
}

func TestNewStreamRejectsBadRates(t *testing.T) {
	if _, err := NewStream(0, 48000, 2, QualityHigh); err == nil {
		t.Error("expected error for zero input rate")
	}
	if _, err := NewStream(44100, 48000, 0, QualityLinear); err == nil {
		t.Error("expected error for zero channels")
	}
}

func TestPolyphaseLength(t *testing.T) {
	p, err := NewPolyphase(44100, 48000, 2, QualityHigh)
	if err != nil {
		t.Fatalf("failed to create resampler: %v", err)
	}

	// One second of a 440Hz stereo tone
	input := make([]float64, 44100*2)
	for i := 0; i < 44100; i++ {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/44100)
		input[i*2] = v
		input[i*2+1] = v
	}

	var total int
	for start := 0; start < len(input); start += 4410 * 2 {
		out, err := p.Process(input[start : start+4410*2])
		if err != nil {
			t.Fatalf("process failed: %v", err)
		}
		if len(out)%2 != 0 {
			t.Fatalf("output not frame aligned: %d", len(out))
		}
		total += len(out)
	}
	tail, err := p.Flush()
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	total += len(tail)

	frames := total / 2
	if frames < 47900 || frames > 48100 {
		t.Errorf("expected ~48000 frames, got %d", frames)
	}
}

// ABOUTME: Tests for RAW sample formats
// ABOUTME: Covers parsing, byte decoding and range-mapped transcoding
package convert

import (
	"bytes"
	"testing"
)

func TestParseRawFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected RawFormat
		wantErr  bool
	}{
		{"int16", Int16, false},
		{"S16LE", Int16, false},
		{"u8", UInt8, false},
		{"float32", Float32, false},
		{"f32", Float32, false},
		{"int24", Int24, false},
		{"double", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRawFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if !tt.wantErr && got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestDecodeRawUnsignedCentred(t *testing.T) {
	tests := []struct {
		name     string
		format   RawFormat
		data     []byte
		expected []int32
	}{
		{"uint8", UInt8, []byte{0, 128, 255}, []int32{-128, 0, 127}},
		{"int8", Int8, []byte{0x80, 0x00, 0x7F}, []int32{-128, 0, 127}},
		{"uint16", UInt16, []byte{0x00, 0x00, 0x00, 0x80}, []int32{-32768, 0}},
		{"int24", Int24, []byte{0x56, 0x34, 0x12, 0x00, 0x00, 0x80}, []int32{0x123456, -8388608}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := DecodeRaw(tt.data, tt.format, 8000, 1)
			if len(buf.Samples) != len(tt.expected) {
				t.Fatalf("expected %d samples, got %d", len(tt.expected), len(buf.Samples))
			}
			for i := range tt.expected {
				if buf.Samples[i] != tt.expected[i] {
					t.Errorf("sample %d: expected %d, got %d", i, tt.expected[i], buf.Samples[i])
				}
			}
		})
	}
}

func TestDecodeRawIgnoresPartialFrame(t *testing.T) {
	buf := DecodeRaw([]byte{1, 0, 2, 0, 3}, Int16, 8000, 2)
	if buf.NumFrames() != 1 {
		t.Errorf("expected 1 frame, got %d", buf.NumFrames())
	}
}

func TestRawRoundTrip(t *testing.T) {
	formats := []RawFormat{Int8, UInt8, Int16, UInt16, Int24, Int32, UInt32, Float32}
	data := make([]byte, 48)
	for i := range data {
		data[i] = byte(i * 37)
	}

	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			in := data[:len(data)-len(data)%f.BytesPerSample()]
			if f == Float32 {
				// keep floats finite and in range
				in = EncodeRaw(DecodeRaw([]byte{0, 0, 0, 0x3F, 0, 0, 0, 0xBF}, Float32, 8000, 1), Float32)
			}
			buf := DecodeRaw(in, f, 8000, 1)
			out := EncodeRaw(buf, f)
			if !bytes.Equal(in, out) {
				t.Errorf("round trip mismatch for %s", f)
			}
		})
	}
}

func TestTranscodeRawRangeMapped(t *testing.T) {
	// int16 full scale maps onto uint8 extremes
	in := []byte{0x00, 0x80, 0xFF, 0x7F, 0x00, 0x00}
	out, err := TranscodeRaw(in, Int16, UInt8)
	if err != nil {
		t.Fatalf("transcode failed: %v", err)
	}
	expected := []byte{0, 255, 128}
	if !bytes.Equal(out, expected) {
		t.Errorf("expected %v, got %v", expected, out)
	}

	f, err := TranscodeRaw(in, Int16, Float32)
	if err != nil {
		t.Fatalf("transcode failed: %v", err)
	}
	back := DecodeRaw(f, Float32, 8000, 1)
	if back.Floats[0] != -1 || back.Floats[2] != 0 {
		t.Errorf("unexpected float mapping: %v", back.Floats)
	}
}

func TestTranscodeRawRejectsRaggedInput(t *testing.T) {
	if _, err := TranscodeRaw([]byte{1, 2, 3}, Int16, Int8); err == nil {
		t.Error("expected error for ragged input")
	}
}

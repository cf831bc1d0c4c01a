// ABOUTME: Tests for the CLI helpers and offline commands
// ABOUTME: Runs scan, probe, export and transcode against temp files
package commands

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/config"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeSineRaw(t *testing.T, path string, rate, frames int) {
	t.Helper()
	buf := audio.Buffer{
		Format:  audio.Format{SampleRate: rate, Channels: 1, BitDepth: 16},
		Samples: make([]int32, frames),
	}
	for i := range buf.Samples {
		buf.Samples[i] = int32(16000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	if err := os.WriteFile(path, convert.EncodeRaw(buf, convert.Int16), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestExportProbeTranscode(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "tone.pcm")
	wav := filepath.Join(dir, "tone.wav")
	flac := filepath.Join(dir, "out", "tone.flac")
	writeSineRaw(t, raw, 16000, 16000)

	out, err := run(t, "export", raw, wav, "--sample-format", "int16", "--in-rate", "16000", "--in-channels", "1")
	if err != nil {
		t.Fatalf("export failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "16000 frames (00:01)") {
		t.Errorf("unexpected export output: %s", out)
	}

	out, err = run(t, "probe", wav)
	if err != nil {
		t.Fatalf("probe failed: %v\n%s", err, out)
	}
	for _, want := range []string{"WAV (wav)", "16000Hz", "00:01", "frames:   16000"} {
		if !strings.Contains(out, want) {
			t.Errorf("probe output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "transcode", wav, flac)
	if err != nil {
		t.Fatalf("transcode failed: %v\n%s", err, out)
	}
	out, err = run(t, "probe", flac)
	if err != nil || !strings.Contains(out, "FLAC") {
		t.Errorf("probe of transcoded file: %v\n%s", err, out)
	}

	out, err = run(t, "scan", "-r", dir)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !strings.Contains(out, "3 files") {
		t.Errorf("expected pcm, wav and flac in scan:\n%s", out)
	}
}

func TestProbeReportsFailures(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "noise.bin")
	if err := os.WriteFile(bad, []byte("not audio at all"), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "probe", bad)
	if err == nil {
		t.Fatal("expected probe to fail")
	}
	if !strings.Contains(out, "UnsupportedFormat") {
		t.Errorf("expected error kind in output: %s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Resonate Transcoder") {
		t.Errorf("version output = %q", out)
	}
}

func TestFormatFlagsApply(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    config.OutputConfig
		wantErr bool
	}{
		{"untouched", nil, config.OutputConfig{SampleRate: 44100, Resample: "high"}, false},
		{"override", []string{"--rate", "16000", "--channels", "1", "--bits", "24"}, config.OutputConfig{SampleRate: 16000, Channels: 1, BitDepth: 24, Resample: "high"}, false},
		{"bad depth", []string{"--bits", "12"}, config.OutputConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "x"}
			f := addFormatFlags(cmd)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatal(err)
			}
			cfg := config.Default()
			cfg.Output.SampleRate = 44100
			err := f.apply(cmd, cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("apply error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && cfg.Output != tt.want {
				t.Errorf("output = %+v, want %+v", cfg.Output, tt.want)
			}
		})
	}
}

func TestOutputCodec(t *testing.T) {
	reg := codec.DefaultRegistry()
	tests := []struct {
		name, flag, loc string
		want            codec.ID
		wantErr         bool
	}{
		{"from extension", "", "a/b.flac", codec.FLAC, false},
		{"flag wins", "opus", "b.wav", codec.Opus, false},
		{"s3 key", "", "s3://bucket/x/y.mp3", codec.MP3, false},
		{"unknown", "", "b.xyz", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := outputCodec(reg, tt.flag, tt.loc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("codec = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPeakAndDescribe(t *testing.T) {
	buf := audio.Buffer{Format: audio.Format{BitDepth: 16, Channels: 1}, Samples: []int32{0, 16384, -32767}}
	if got := peakDBFS(buf); math.Abs(got) > 0.01 {
		t.Errorf("full-scale peak = %.2f dBFS, want 0", got)
	}
	if got := peakDBFS(audio.Buffer{Format: buf.Format, Samples: []int32{0}}); !math.IsInf(got, -1) {
		t.Errorf("silent peak = %v, want -Inf", got)
	}

	res := transcode.Result{Frames: 48000 * 61, Encoded: 1024}
	if got := describeResult(res, 48000); got != "2928000 frames (01:01), 1024 bytes" {
		t.Errorf("describeResult = %q", got)
	}
}

// ABOUTME: Transcoder configuration loaded from YAML with environment overrides
// ABOUTME: Maps config sections onto engine, converter, VAD and ring settings
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/resample"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/stream"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/vad"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

// DefaultPath is searched when Load is given no path.
const DefaultPath = "transcoder.yaml"

// Config is the complete transcoder configuration.
type Config struct {
	Output  OutputConfig  `yaml:"output"`
	Encode  EncodeConfig  `yaml:"encode"`
	VAD     VADConfig     `yaml:"vad"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Engine  EngineConfig  `yaml:"engine"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// OutputConfig is the PCM target. Zero values keep the source's property.
type OutputConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	BitDepth   int    `yaml:"bit_depth"`
	Float      bool   `yaml:"float"`
	Channels   int    `yaml:"channels"`
	Resample   string `yaml:"resample"` // linear, medium or high
}

// EncodeConfig tunes lossy encoders.
type EncodeConfig struct {
	Quality     int `yaml:"quality"`      // 0-100
	OpusBitrate int `yaml:"opus_bitrate"` // bits per second, overrides quality
}

// VADConfig gates capture sessions.
type VADConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Mode         string `yaml:"mode"`
	SampleRate   int    `yaml:"sample_rate"`
	MinSpeechMs  int    `yaml:"min_speech_ms"`
	MinSilenceMs int    `yaml:"min_silence_ms"`
	FrameMs      int    `yaml:"frame_ms"`
}

// BufferConfig is the capture ring buffer.
type BufferConfig struct {
	Capacity  int    `yaml:"capacity"`
	Policy    string `yaml:"policy"` // block, drop-oldest or fail-fast
	TimeoutMs int    `yaml:"timeout_ms"`
}

// EngineConfig sizes the worker pool.
type EngineConfig struct {
	Workers     int `yaml:"workers"`
	Queue       int `yaml:"queue"`
	FrameBudget int `yaml:"frame_budget"`
}

// IngestConfig is the remote capture server.
type IngestConfig struct {
	Port    int    `yaml:"port"`
	RTPPort int    `yaml:"rtp_port"` // 0 disables RTP
	Name    string `yaml:"name"`
	MDNS    bool   `yaml:"mdns"`
	Codec   string `yaml:"codec"` // container for stored sessions
	Store   string `yaml:"store"` // directory or s3://bucket/prefix
}

// CacheConfig is the decode cache. An empty Dir disables it.
type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// StorageConfig configures S3 access for s3:// locations.
type StorageConfig struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// LogConfig selects the level and an optional log file.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	def := transcode.DefaultConfig()
	return &Config{
		Output: OutputConfig{Resample: "high"},
		VAD: VADConfig{
			Mode:         vad.VeryAggressive.String(),
			SampleRate:   vad.DefaultSampleRate,
			MinSpeechMs:  int(vad.DefaultMinSpeech / time.Millisecond),
			MinSilenceMs: int(vad.DefaultMinSilence / time.Millisecond),
			FrameMs:      int(vad.DefaultWindow / time.Millisecond),
		},
		Buffer: BufferConfig{
			Capacity:  transcode.DefaultCaptureCapacity,
			Policy:    stream.Block.String(),
			TimeoutMs: int(stream.CapturePolicy().Timeout / time.Millisecond),
		},
		Engine: EngineConfig{
			Workers:     def.Workers,
			Queue:       def.Queue,
			FrameBudget: def.FrameBudget,
		},
		Ingest: IngestConfig{
			Port:  8928,
			Name:  "resonate-transcoder",
			MDNS:  true,
			Codec: "wav",
			Store: "recordings",
		},
		Storage: StorageConfig{Region: "us-east-1"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies TRANSCODER_* environment
// overrides and validates the result. An empty path loads DefaultPath
// when it exists and the defaults otherwise.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Debugf("config: loaded %s", path)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if err := c.Encode.Validate(); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad: %w", err)
	}
	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if _, ok := log.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	return nil
}

func (o *OutputConfig) Validate() error {
	if o.SampleRate < 0 || o.SampleRate > 384000 {
		return fmt.Errorf("sample_rate must be between 0 and 384000, got %d", o.SampleRate)
	}
	if o.Channels < 0 || o.Channels > 255 {
		return fmt.Errorf("channels must be between 0 and 255, got %d", o.Channels)
	}
	switch o.BitDepth {
	case 0, 8, 16, 24, 32:
	default:
		return fmt.Errorf("bit_depth must be 8, 16, 24 or 32, got %d", o.BitDepth)
	}
	if _, err := resample.ParseQuality(o.Resample); err != nil {
		return err
	}
	return nil
}

func (e *EncodeConfig) Validate() error {
	if e.Quality < 0 || e.Quality > 100 {
		return fmt.Errorf("quality must be between 0 and 100, got %d", e.Quality)
	}
	if e.OpusBitrate != 0 && (e.OpusBitrate < 6000 || e.OpusBitrate > 510000) {
		return fmt.Errorf("opus_bitrate must be between 6000 and 510000, got %d", e.OpusBitrate)
	}
	return nil
}

func (v *VADConfig) Validate() error {
	_, err := v.Session()
	return err
}

func (b *BufferConfig) Validate() error {
	if b.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", b.Capacity)
	}
	if b.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms cannot be negative, got %d", b.TimeoutMs)
	}
	_, err := stream.ParseMode(b.Policy)
	return err
}

func (e *EngineConfig) Validate() error {
	if e.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", e.Workers)
	}
	if e.Queue < 1 {
		return fmt.Errorf("queue must be at least 1, got %d", e.Queue)
	}
	if e.FrameBudget < 1 {
		return fmt.Errorf("frame_budget must be at least 1, got %d", e.FrameBudget)
	}
	return nil
}

func (i *IngestConfig) Validate() error {
	if i.Port < 1 || i.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", i.Port)
	}
	if i.RTPPort < 0 || i.RTPPort > 65535 {
		return fmt.Errorf("rtp_port must be between 0 and 65535, got %d", i.RTPPort)
	}
	if i.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	return nil
}

// Target is the converter target for the output section.
func (c *Config) Target() convert.Target {
	q, _ := resample.ParseQuality(c.Output.Resample)
	return convert.Target{
		SampleRate: c.Output.SampleRate,
		Channels:   c.Output.Channels,
		BitDepth:   c.Output.BitDepth,
		Float:      c.Output.Float,
		Quality:    q,
	}
}

// EncodeOptions maps the encode section onto encoder options.
func (c *Config) EncodeOptions() encode.Options {
	q, _ := resample.ParseQuality(c.Output.Resample)
	return encode.Options{
		Quality:  c.Encode.Quality,
		Bitrate:  c.Encode.OpusBitrate,
		Resample: q,
	}
}

// TranscodeConfig sizes an engine from the engine and buffer sections.
func (c *Config) TranscodeConfig() transcode.Config {
	return transcode.Config{
		Workers:     c.Engine.Workers,
		Queue:       c.Engine.Queue,
		FrameBudget: c.Engine.FrameBudget,
	}
}

// Policy is the capture backpressure policy.
func (c *Config) Policy() stream.Policy {
	mode, _ := stream.ParseMode(c.Buffer.Policy)
	return stream.Policy{
		Mode:    mode,
		Timeout: time.Duration(c.Buffer.TimeoutMs) * time.Millisecond,
	}
}

// Session builds a VAD config from the section, enabled or not.
func (v *VADConfig) Session() (vad.Config, error) {
	mode, err := vad.ParseMode(v.Mode)
	if err != nil {
		return vad.Config{}, err
	}
	cfg := vad.Config{
		Mode:       mode,
		SampleRate: v.SampleRate,
		MinSpeech:  time.Duration(v.MinSpeechMs) * time.Millisecond,
		MinSilence: time.Duration(v.MinSilenceMs) * time.Millisecond,
	}
	if err := cfg.Validate(); err != nil {
		return vad.Config{}, err
	}
	if v.FrameMs != 10 && v.FrameMs != 20 && v.FrameMs != 30 {
		return vad.Config{}, fmt.Errorf("frame_ms must be 10, 20 or 30, got %d", v.FrameMs)
	}
	return cfg, nil
}

// Window is the VAD classification window.
func (v *VADConfig) Window() time.Duration {
	return time.Duration(v.FrameMs) * time.Millisecond
}

// CaptureVAD returns the VAD config for capture sessions, or nil when disabled.
func (c *Config) CaptureVAD() *vad.Config {
	if !c.VAD.Enabled {
		return nil
	}
	cfg, err := c.VAD.Session()
	if err != nil {
		return nil
	}
	return &cfg
}

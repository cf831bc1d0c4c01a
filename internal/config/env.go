// ABOUTME: TRANSCODER_* environment overrides
// ABOUTME: Applied after the YAML file and before validation
package config

import (
	"os"
	"strconv"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
)

// EnvPrefix starts every override variable.
const EnvPrefix = "TRANSCODER_"

func (c *Config) applyEnvOverrides() {
	// TRANSCODER_OUTPUT_{...}
	envInt("OUTPUT_SAMPLE_RATE", &c.Output.SampleRate)
	envInt("OUTPUT_BIT_DEPTH", &c.Output.BitDepth)
	envInt("OUTPUT_CHANNELS", &c.Output.Channels)
	envBool("OUTPUT_FLOAT", &c.Output.Float)
	envString("OUTPUT_RESAMPLE", &c.Output.Resample)

	envInt("ENCODE_QUALITY", &c.Encode.Quality)
	envInt("ENCODE_OPUS_BITRATE", &c.Encode.OpusBitrate)

	// TRANSCODER_VAD_{...}
	envBool("VAD_ENABLED", &c.VAD.Enabled)
	envString("VAD_MODE", &c.VAD.Mode)
	envInt("VAD_MIN_SPEECH_MS", &c.VAD.MinSpeechMs)
	envInt("VAD_MIN_SILENCE_MS", &c.VAD.MinSilenceMs)
	envInt("VAD_FRAME_MS", &c.VAD.FrameMs)

	envInt("BUFFER_CAPACITY", &c.Buffer.Capacity)
	envString("BUFFER_POLICY", &c.Buffer.Policy)
	envInt("BUFFER_TIMEOUT_MS", &c.Buffer.TimeoutMs)

	envInt("ENGINE_WORKERS", &c.Engine.Workers)
	envInt("ENGINE_QUEUE", &c.Engine.Queue)
	envInt("ENGINE_FRAME_BUDGET", &c.Engine.FrameBudget)

	// TRANSCODER_INGEST_{...}
	envInt("INGEST_PORT", &c.Ingest.Port)
	envInt("INGEST_RTP_PORT", &c.Ingest.RTPPort)
	envString("INGEST_NAME", &c.Ingest.Name)
	envBool("INGEST_MDNS", &c.Ingest.MDNS)
	envString("INGEST_CODEC", &c.Ingest.Codec)
	envString("INGEST_STORE", &c.Ingest.Store)

	envString("CACHE_DIR", &c.Cache.Dir)

	envString("STORAGE_REGION", &c.Storage.Region)
	envString("STORAGE_ENDPOINT", &c.Storage.Endpoint)
	envBool("STORAGE_USE_PATH_STYLE", &c.Storage.UsePathStyle)

	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FILE", &c.Log.File)
}

func envString(name string, dst *string) {
	if val, ok := os.LookupEnv(EnvPrefix + name); ok {
		*dst = val
		log.Debugf("config: %s%s overrides to %q", EnvPrefix, name, val)
	}
}

func envInt(name string, dst *int) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Warnf("config: ignoring %s%s=%q: %v", EnvPrefix, name, val, err)
		return
	}
	*dst = n
	log.Debugf("config: %s%s overrides to %d", EnvPrefix, name, n)
}

func envBool(name string, dst *bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Warnf("config: ignoring %s%s=%q: %v", EnvPrefix, name, val, err)
		return
	}
	*dst = b
	log.Debugf("config: %s%s overrides to %v", EnvPrefix, name, b)
}

// ABOUTME: Ingest wire protocol
// ABOUTME: JSON control messages on text frames, msgpack audio frames on binary frames
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// ProtocolVersion is the ingest protocol version sent in hellos.
const ProtocolVersion = 1

// DefaultPath is the WebSocket endpoint.
const DefaultPath = "/ingest"

// Message types
const (
	TypeClientHello  = "client/hello"
	TypeServerHello  = "server/hello"
	TypeClientTime   = "client/time"
	TypeServerTime   = "server/time"
	TypeStreamStart  = "stream/start"
	TypeStreamEnd    = "stream/end"
	TypeServerSpeech = "server/speech"
	TypeServerStatus = "server/status"
	TypeServerError  = "server/error"
)

// Error codes carried by server/error
const (
	ErrDuplicateClient = "duplicate_client_id"
	ErrBadHello        = "bad_hello"
	ErrStreamActive    = "stream_active"
	ErrNoStream        = "no_stream"
	ErrBadFrame        = "bad_frame"
	ErrShuttingDown    = "shutting_down"
)

// Message is the top-level wrapper for all control messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID   string      `json:"client_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string   `json:"server_id"`
	Name     string   `json:"name"`
	Version  int      `json:"version"`
	Codecs   []string `json:"codecs"`
}

// ClientTime starts a clock sync round
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
}

// ServerTime answers a clock sync round
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}

// StreamStart announces the format of the audio frames that follow.
type StreamStart struct {
	Codec      string `json:"codec"` // "pcm" or "opus"
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth,omitempty"`
	// VAD overrides the server's default gating when set.
	VAD *bool `json:"vad,omitempty"`
	// Label names the stored recording.
	Label string `json:"label,omitempty"`
}

// Format returns the packet format the stream announces.
func (s StreamStart) Format() audio.Format {
	f := audio.Format{
		Codec:      s.Codec,
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
		BitDepth:   s.BitDepth,
	}
	if s.Codec == "opus" {
		f.BitDepth = 16
	}
	return f
}

// ServerSpeech reports a VAD transition.
type ServerSpeech struct {
	SessionID string `json:"session_id"`
	Speech    bool   `json:"speech"`
}

// ServerStatus reports the outcome of a stream.
type ServerStatus struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Frames    int64  `json:"frames"`
	Encoded   int64  `json:"encoded"`
	Key       string `json:"key,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ServerError reports a rejected request.
type ServerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AudioFrame is the payload of every binary message.
type AudioFrame struct {
	Seq       uint64 `msgpack:"seq"`
	Timestamp int64  `msgpack:"ts"` // server clock, microseconds
	Data      []byte `msgpack:"data"`
}

// NewMessage marshals payload into a message of type msgType.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	msg := Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return msg, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", m.Type, err)
	}
	return nil
}

// MarshalFrame encodes an audio frame for a binary message.
func MarshalFrame(f AudioFrame) ([]byte, error) {
	return msgpack.Marshal(&f)
}

// UnmarshalFrame decodes a binary message.
func UnmarshalFrame(data []byte) (AudioFrame, error) {
	var f AudioFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return f, audio.NewError(audio.CorruptStream, "ingest: frame", err)
	}
	return f, nil
}

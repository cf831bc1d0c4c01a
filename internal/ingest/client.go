// ABOUTME: WebSocket push client for the ingest server
// ABOUTME: Handles handshake, clock sync and streaming encoded audio frames
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/version"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
)

// ClientConfig holds client configuration
type ClientConfig struct {
	// ServerAddr is host:port, or a full ws:// URL.
	ServerAddr string
	ClientID   string
	Name       string
	DeviceInfo *DeviceInfo
	// OpusBitrate applies to opus streams; 0 uses the encoder default.
	OpusBitrate int
}

// PushClient streams audio to an ingest server.
type PushClient struct {
	config ClientConfig
	conn   *websocket.Conn
	mu     sync.RWMutex
	clock  *ClockSync

	// Server messages
	timeResp chan ServerTime
	status   chan ServerStatus
	errs     chan ServerError
	speech   chan ServerSpeech

	// Stream state, owned by the sending goroutine
	encoder encode.PacketEncoder
	pending audio.Buffer
	frames  int // frames per packet
	seq     uint64

	connected bool
	done      chan struct{}
	hello     ServerHello
}

// NewPushClient creates a client; Connect dials the server.
func NewPushClient(config ClientConfig) *PushClient {
	return &PushClient{
		config:   config,
		clock:    NewClockSync(),
		timeResp: make(chan ServerTime, 10),
		status:   make(chan ServerStatus, 4),
		errs:     make(chan ServerError, 4),
		speech:   make(chan ServerSpeech, 32),
		done:     make(chan struct{}),
	}
}

func (c *PushClient) endpoint() string {
	addr := c.config.ServerAddr
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: DefaultPath}
	return u.String()
}

// Connect establishes the WebSocket connection and performs the handshake
func (c *PushClient) Connect(ctx context.Context) error {
	endpoint := c.endpoint()
	log.Debugf("Connecting to %s", endpoint)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

// handshake performs the protocol handshake
func (c *PushClient) handshake() error {
	info := c.config.DeviceInfo
	if info == nil {
		info = &DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		}
	}
	if err := c.send(TypeClientHello, ClientHello{
		ClientID:   c.config.ClientID,
		Name:       c.config.Name,
		Version:    ProtocolVersion,
		DeviceInfo: info,
	}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}
	if msg.Type == TypeServerError {
		var se ServerError
		msg.Decode(&se)
		return fmt.Errorf("server rejected client: %s: %s", se.Error, se.Message)
	}
	if msg.Type != TypeServerHello {
		return fmt.Errorf("expected server/hello, got %s", msg.Type)
	}
	if err := msg.Decode(&c.hello); err != nil {
		return err
	}

	log.Debugf("Handshake complete with %s (protocol v%d)", c.hello.Name, c.hello.Version)
	return nil
}

// Server returns the server's hello.
func (c *PushClient) Server() ServerHello {
	return c.hello
}

// SyncClock runs rounds of client/time exchanges.
func (c *PushClient) SyncClock(ctx context.Context, rounds int) error {
	for i := 0; i < rounds; i++ {
		t1 := LocalMicros()
		if err := c.send(TypeClientTime, ClientTime{ClientTransmitted: t1}); err != nil {
			return err
		}
		select {
		case resp := <-c.timeResp:
			c.clock.ProcessSyncResponse(resp.ClientTransmitted, resp.ServerReceived, resp.ServerTransmitted, LocalMicros())
		case <-c.done:
			return errors.New("connection closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Clock returns the client's clock estimate.
func (c *PushClient) Clock() *ClockSync {
	return c.clock
}

// StartStream announces a stream. Buffers passed to SendAudio must be in
// the announced rate and channel count; they are requantized as needed.
func (c *PushClient) StartStream(start StreamStart) error {
	format := start.Format()
	var enc encode.PacketEncoder
	var err error
	switch start.Codec {
	case "pcm":
		enc, err = encode.NewPCMPacket(format)
		c.frames = format.SampleRate * encode.OpusFrameMillis / 1000
	case "opus":
		var op *encode.OpusPacket
		op, err = encode.NewOpusPacket(format, c.config.OpusBitrate)
		if op != nil {
			enc = op
			c.frames = op.FrameSize()
		}
	default:
		err = fmt.Errorf("unsupported packet codec %q", start.Codec)
	}
	if err != nil {
		return audio.NewError(audio.UnsupportedFormat, "ingest: start", err)
	}

	if err := c.send(TypeStreamStart, start); err != nil {
		return err
	}
	c.encoder = enc
	c.pending = audio.Buffer{Format: enc.Format()}
	c.seq = 0
	return nil
}

// SendAudio packetizes buf and sends whole packets; the remainder waits
// for the next call or EndStream.
func (c *PushClient) SendAudio(buf audio.Buffer) error {
	if c.encoder == nil {
		return errors.New("no stream started")
	}
	b := convert.Requantize(buf, c.pending.Format.BitDepth, false)
	b.Format.Codec = c.pending.Format.Codec
	if err := c.pending.Append(b); err != nil {
		return err
	}
	for c.pending.NumFrames() >= c.frames {
		if err := c.sendPacket(c.pending.Slice(0, c.frames)); err != nil {
			return err
		}
		c.pending = c.pending.Slice(c.frames, c.pending.NumFrames()).Clone()
	}
	return nil
}

func (c *PushClient) sendPacket(b audio.Buffer) error {
	data, err := c.encoder.Encode(b)
	if err != nil {
		return err
	}
	frame, err := MarshalFrame(AudioFrame{
		Seq:       c.seq,
		Timestamp: c.clock.ServerMicros(LocalMicros()),
		Data:      data,
	})
	if err != nil {
		return err
	}
	c.seq++
	return c.write(websocket.BinaryMessage, frame)
}

// EndStream flushes the remainder, ends the stream and waits for the
// server's status.
func (c *PushClient) EndStream(ctx context.Context) (ServerStatus, error) {
	if c.encoder == nil {
		return ServerStatus{}, errors.New("no stream started")
	}
	if n := c.pending.NumFrames(); n > 0 {
		tail := c.pending
		if _, ok := c.encoder.(*encode.OpusPacket); ok {
			// Opus packets have a fixed duration; pad with silence.
			pad := audio.Buffer{Format: tail.Format, Samples: make([]int32, (c.frames-n)*tail.Format.Channels)}
			tail = tail.Clone()
			tail.Append(pad)
		}
		if err := c.sendPacket(tail); err != nil {
			return ServerStatus{}, err
		}
	}
	c.encoder.Close()
	c.encoder = nil

	if err := c.send(TypeStreamEnd, nil); err != nil {
		return ServerStatus{}, err
	}
	select {
	case st := <-c.status:
		if st.Error != "" {
			return st, fmt.Errorf("stream %s %s: %s", st.SessionID, st.State, st.Error)
		}
		return st, nil
	case se := <-c.errs:
		return ServerStatus{}, fmt.Errorf("server error %s: %s", se.Error, se.Message)
	case <-c.done:
		return ServerStatus{}, errors.New("connection closed")
	case <-ctx.Done():
		return ServerStatus{}, ctx.Err()
	}
}

// Speech delivers the server's VAD transitions.
func (c *PushClient) Speech() <-chan ServerSpeech {
	return c.speech
}

// Errors delivers server/error messages received outside a request.
func (c *PushClient) Errors() <-chan ServerError {
	return c.errs
}

// readMessages routes server messages until the connection closes
func (c *PushClient) readMessages() {
	defer close(c.done)

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("Read error: %v", err)
			}
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warnf("Failed to parse message: %v", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *PushClient) handleMessage(msg Message) {
	switch msg.Type {
	case TypeServerTime:
		var st ServerTime
		if err := msg.Decode(&st); err == nil {
			deliver(c.timeResp, st)
		}
	case TypeServerStatus:
		var st ServerStatus
		if err := msg.Decode(&st); err == nil {
			deliver(c.status, st)
		}
	case TypeServerSpeech:
		var sp ServerSpeech
		if err := msg.Decode(&sp); err == nil {
			deliver(c.speech, sp)
		}
	case TypeServerError:
		var se ServerError
		if err := msg.Decode(&se); err == nil {
			log.Warnf("Server error: %s: %s", se.Error, se.Message)
			deliver(c.errs, se)
		}
	default:
		log.Debugf("Unknown message type: %s", msg.Type)
	}
}

// deliver drops the value when nobody is listening.
func deliver[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func (c *PushClient) send(msgType string, payload interface{}) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *PushClient) write(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteMessage(msgType, data)
}

// Close closes the connection
func (c *PushClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

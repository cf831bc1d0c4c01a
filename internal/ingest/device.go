// ABOUTME: Remote capture device fed by network packets
// ABOUTME: Decodes PCM or Opus packets and pushes them into a capture sink
package ingest

import (
	"sync"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/capture"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/decode"
)

// maxPending bounds the packets held while the capture task waits for a worker.
const maxPending = 512

// RemoteDevice is a capture.Device whose audio arrives over the network.
// Packets fed before the capture task opens the device are held and
// replayed on Open.
type RemoteDevice struct {
	dec decode.PacketDecoder

	mu      sync.Mutex
	sink    capture.Sink
	pending [][]int32
	ended   bool
	failed  error
	closed  bool
}

// NewRemoteDevice creates a device for packets in format. Codec "pcm"
// carries little-endian integer PCM; "opus" carries one Opus packet each.
func NewRemoteDevice(format audio.Format) (*RemoteDevice, error) {
	var (
		dec decode.PacketDecoder
		err error
	)
	switch format.Codec {
	case "pcm":
		if format.Float {
			return nil, audio.Errorf(audio.UnsupportedFormat, "ingest", "float PCM packets are not supported")
		}
		dec, err = decode.NewPCMPacket(format)
	case "opus":
		dec, err = decode.NewOpusPacket(format)
	default:
		return nil, audio.Errorf(audio.UnsupportedFormat, "ingest", "unsupported packet codec %q", format.Codec)
	}
	if err != nil {
		return nil, audio.NewError(audio.UnsupportedFormat, "ingest", err)
	}
	return &RemoteDevice{dec: dec}, nil
}

// Format is the decoded PCM format pushed to the sink.
func (d *RemoteDevice) Format() audio.Format {
	return d.dec.Format()
}

// Open attaches the sink and replays anything received so far.
func (d *RemoteDevice) Open(sink capture.Sink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return audio.Errorf(audio.DeviceError, "ingest", "device closed")
	}
	d.sink = sink
	for _, samples := range d.pending {
		sink.Push(samples)
	}
	d.pending = nil
	switch {
	case d.failed != nil:
		sink.Fail(d.failed)
	case d.ended:
		sink.End()
	}
	return nil
}

// Feed decodes one packet and delivers it.
func (d *RemoteDevice) Feed(packet []byte) error {
	buf, err := d.dec.Decode(packet)
	if err != nil {
		return audio.NewError(audio.CorruptStream, "ingest: decode", err)
	}
	if len(buf.Samples) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.ended || d.failed != nil {
		return audio.Errorf(audio.DeviceError, "ingest", "stream already finished")
	}
	if d.sink != nil {
		d.sink.Push(buf.Samples)
		return nil
	}
	if len(d.pending) >= maxPending {
		return audio.Errorf(audio.BufferFull, "ingest", "%d packets waiting for a worker", len(d.pending))
	}
	d.pending = append(d.pending, buf.Samples)
	return nil
}

// End marks the end of the remote stream.
func (d *RemoteDevice) End() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended || d.closed {
		return
	}
	d.ended = true
	if d.sink != nil {
		d.sink.End()
	}
}

// Fail aborts the stream with err.
func (d *RemoteDevice) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended || d.closed || d.failed != nil {
		return
	}
	d.failed = err
	if d.sink != nil {
		d.sink.Fail(err)
	}
}

// Close detaches the sink. Later packets are rejected.
func (d *RemoteDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.sink = nil
	d.pending = nil
	return d.dec.Close()
}

var _ capture.Device = (*RemoteDevice)(nil)

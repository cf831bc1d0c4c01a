// ABOUTME: RTP Opus ingest receiver
// ABOUTME: One capture session per SSRC, ended after the sender goes idle
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// RTP defaults
const (
	DefaultRTPPayloadType = 111 // dynamic type used for Opus by WebRTC stacks
	DefaultRTPIdleTimeout = 3 * time.Second
	rtpReadTimeout        = time.Second
	rtpMaxPacket          = 1500
)

// RTPConfig configures the RTP receiver.
type RTPConfig struct {
	Port        int
	PayloadType uint8
	SampleRate  int // Opus decode rate, 48000 unless set
	Channels    int
	IdleTimeout time.Duration
}

func (c RTPConfig) withDefaults() RTPConfig {
	if c.PayloadType == 0 {
		c.PayloadType = DefaultRTPPayloadType
	}
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	if c.Channels == 0 {
		c.Channels = 2
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultRTPIdleTimeout
	}
	return c
}

// RTPReceiver accepts RTP Opus streams on a UDP socket.
type RTPReceiver struct {
	server *Server
	config RTPConfig
	conn   *net.UDPConn

	mu       sync.Mutex
	sessions map[uint32]*rtpSession
	finishes sync.WaitGroup
}

type rtpSession struct {
	sess     *session
	remote   *net.UDPAddr
	lastSeq  uint16
	lastSeen time.Time
}

// ListenRTP binds the RTP socket. Packets are read once Run is called.
func (s *Server) ListenRTP(config RTPConfig) (*RTPReceiver, error) {
	config = config.withDefaults()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: config.Port})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP port %d: %w", config.Port, err)
	}
	log.Infof("RTP ingest listening on %s (PT %d, %d Hz)", conn.LocalAddr(), config.PayloadType, config.SampleRate)
	return &RTPReceiver{
		server:   s,
		config:   config,
		conn:     conn,
		sessions: make(map[uint32]*rtpSession),
	}, nil
}

// Addr is the bound UDP address.
func (r *RTPReceiver) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Run receives packets until stop closes, then finishes every open session.
// Packets are handled inline: each SSRC's Opus decoder is not safe for
// concurrent use and arrival order matters.
func (r *RTPReceiver) Run(stop <-chan struct{}) {
	defer r.conn.Close()
	buffer := make([]byte, rtpMaxPacket)

	for {
		select {
		case <-stop:
			r.closeAll()
			return
		default:
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(rtpReadTimeout)); err != nil {
			log.Errorf("rtp: failed to set read deadline: %v", err)
		}
		n, remote, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				r.reap(time.Now())
				continue
			}
			select {
			case <-stop:
				r.closeAll()
				return
			default:
				log.Warnf("rtp: read failed: %v", err)
				continue
			}
		}

		r.handlePacket(buffer[:n], remote, time.Now())
		r.reap(time.Now())
	}
}

func (r *RTPReceiver) handlePacket(data []byte, remote *net.UDPAddr, now time.Time) {
	rec := r.server.recorder
	rec.PacketReceived(TransportRTP, len(data))

	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		rec.IngestError(TransportRTP, audio.CorruptStream.String())
		log.Debugf("rtp: bad packet from %s: %v", remote, err)
		return
	}
	if pkt.PayloadType != r.config.PayloadType {
		rec.IngestError(TransportRTP, audio.UnsupportedFormat.String())
		log.Debugf("rtp: ignoring payload type %d from %s", pkt.PayloadType, remote)
		return
	}

	r.mu.Lock()
	rs, ok := r.sessions[pkt.SSRC]
	if !ok {
		sess, err := r.server.startSession(TransportRTP, fmt.Sprintf("rtp-%08x", pkt.SSRC), StreamStart{
			Codec:      "opus",
			SampleRate: r.config.SampleRate,
			Channels:   r.config.Channels,
		}, nil)
		if err != nil {
			r.mu.Unlock()
			rec.IngestError(TransportRTP, audio.KindOf(err).String())
			log.Warnf("rtp: cannot start session for SSRC %08x: %v", pkt.SSRC, err)
			return
		}
		rs = &rtpSession{sess: sess, remote: remote, lastSeq: pkt.SequenceNumber - 1}
		r.sessions[pkt.SSRC] = rs
	}

	// Sequence numbers wrap at 16 bits; a non-positive delta is late or repeated.
	delta := int16(pkt.SequenceNumber - rs.lastSeq)
	if delta <= 0 {
		r.mu.Unlock()
		log.Debugf("rtp: dropping late packet %d from SSRC %08x", pkt.SequenceNumber, pkt.SSRC)
		return
	}
	if delta > 1 {
		log.Warnf("rtp: SSRC %08x lost %d packets before %d", pkt.SSRC, delta-1, pkt.SequenceNumber)
	}
	rs.lastSeq = pkt.SequenceNumber
	rs.lastSeen = now
	dev := rs.sess.device
	r.mu.Unlock()

	if err := dev.Feed(pkt.Payload); err != nil {
		rec.IngestError(TransportRTP, audio.KindOf(err).String())
		log.Warnf("rtp: dropping packet %d from SSRC %08x: %v", pkt.SequenceNumber, pkt.SSRC, err)
	}
}

// reap ends sessions idle since before now minus the idle timeout.
func (r *RTPReceiver) reap(now time.Time) {
	r.mu.Lock()
	var idle []*rtpSession
	for ssrc, rs := range r.sessions {
		if now.Sub(rs.lastSeen) >= r.config.IdleTimeout {
			idle = append(idle, rs)
			delete(r.sessions, ssrc)
		}
	}
	r.mu.Unlock()

	for _, rs := range idle {
		r.finish(rs)
	}
}

func (r *RTPReceiver) finish(rs *rtpSession) {
	rs.sess.device.End()
	r.finishes.Add(1)
	go func() {
		defer r.finishes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
		defer cancel()
		status := r.server.finishSession(ctx, rs.sess)
		log.Infof("rtp: session %s from %s ended %s (key %q)", status.SessionID, rs.remote, status.State, status.Key)
	}()
}

func (r *RTPReceiver) closeAll() {
	r.mu.Lock()
	all := make([]*rtpSession, 0, len(r.sessions))
	for ssrc, rs := range r.sessions {
		all = append(all, rs)
		delete(r.sessions, ssrc)
	}
	r.mu.Unlock()

	for _, rs := range all {
		r.finish(rs)
	}
	r.finishes.Wait()
}

// Sessions returns the number of open RTP sessions.
func (r *RTPReceiver) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RTPSender packetizes Opus frames for one SSRC, for tests and the push client.
type RTPSender struct {
	PayloadType uint8
	SSRC        uint32
	seq         uint16
	timestamp   uint32
}

// Packet wraps one Opus packet covering frames samples per channel.
func (s *RTPSender) Packet(payload []byte, frames int) ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.SSRC,
		},
		Payload: payload,
	}
	s.seq++
	s.timestamp += uint32(frames)
	return pkt.Marshal()
}

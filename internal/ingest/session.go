// ABOUTME: Transport-neutral ingest sessions
// ABOUTME: Runs one capture task per remote stream and stores the encoded result
package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/vad"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

// Transports, used as metric labels.
const (
	TransportWebSocket = "websocket"
	TransportRTP       = "rtp"
)

// uploadTimeout bounds storing one recording.
const uploadTimeout = 2 * time.Minute

// Recorder receives ingest events, for metrics.
type Recorder interface {
	SessionStarted(transport string)
	SessionEnded(transport string)
	PacketReceived(transport string, size int)
	IngestError(transport, kind string)
	SpeechChanged()
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(string)      {}
func (nopRecorder) SessionEnded(string)        {}
func (nopRecorder) PacketReceived(string, int) {}
func (nopRecorder) IngestError(string, string) {}
func (nopRecorder) SpeechChanged()             {}

// session is one remote stream feeding one capture task.
type session struct {
	id        string
	transport string
	source    string
	label     string
	started   time.Time

	device *RemoteDevice
	task   *transcode.Task
	out    *encode.WriteSeekBuffer
}

// startSession opens a device for start and submits its capture task.
// onSpeech, when set, is told about VAD transitions.
func (s *Server) startSession(transport, source string, start StreamStart, onSpeech func(id string, speech bool)) (*session, error) {
	dev, err := NewRemoteDevice(start.Format())
	if err != nil {
		return nil, err
	}
	if err := dev.Format().Validate(); err != nil {
		dev.Close()
		return nil, audio.NewError(audio.UnsupportedFormat, "ingest", err)
	}

	sess := &session{
		id:        uuid.NewString(),
		transport: transport,
		source:    source,
		label:     start.Label,
		started:   time.Now(),
		device:    dev,
		out:       &encode.WriteSeekBuffer{},
	}

	opts := transcode.CaptureOptions{
		Target:    s.config.Target,
		VAD:       s.vadFor(start),
		VADWindow: s.config.VADWindow,
		Capacity:  s.config.Capacity,
		Policy:    s.config.Policy,
		Sink:      sess.out,
		Codec:     s.config.Codec,
		Encode:    s.config.Encode,
		Discard:   true,
	}
	if opts.VAD != nil {
		opts.OnSpeech = func(st vad.State) {
			s.recorder.SpeechChanged()
			if onSpeech != nil {
				onSpeech(sess.id, st == vad.Speech)
			}
		}
	}

	sess.task = s.engine.Capture(dev, opts)
	s.recorder.SessionStarted(transport)
	log.Infof("Ingest session %s started: %s from %s (%s %d Hz, %d ch)",
		sess.id, transport, source, start.Codec, start.SampleRate, start.Channels)
	return sess, nil
}

// vadFor resolves the gating for a stream: the stream's own flag wins over
// the server default.
func (s *Server) vadFor(start StreamStart) *vad.Config {
	if start.VAD == nil {
		return s.config.VAD
	}
	if !*start.VAD {
		return nil
	}
	if s.config.VAD != nil {
		return s.config.VAD
	}
	cfg := vad.DefaultConfig()
	return &cfg
}

// finishSession waits for the capture task, stores the recording and
// returns the status sent to the client. The device must already be ended.
func (s *Server) finishSession(ctx context.Context, sess *session) ServerStatus {
	defer s.recorder.SessionEnded(sess.transport)

	res, _ := sess.task.Wait(ctx)
	if ctx.Err() != nil {
		sess.task.Cancel()
		<-sess.task.Done()
		res, _ = sess.task.Result()
	}

	status := ServerStatus{
		SessionID: sess.id,
		State:     res.State.String(),
		Frames:    res.Frames,
		Encoded:   res.Encoded,
	}
	if res.Err != nil {
		status.Error = res.Err.Error()
		s.recorder.IngestError(sess.transport, audio.KindOf(res.Err).String())
		log.Warnf("Ingest session %s ended %s: %v", sess.id, res.State, res.Err)
		return status
	}
	if res.State != transcode.Succeeded {
		return status
	}

	key := s.objectKey(sess)
	uctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	if err := s.store(uctx, key, sess.out.Bytes()); err != nil {
		status.Error = err.Error()
		s.recorder.IngestError(sess.transport, "storage")
		log.Errorf("Ingest session %s: %v", sess.id, err)
		return status
	}
	status.Key = key
	log.Infof("Ingest session %s stored %s (%d frames, %d bytes, %s)",
		sess.id, key, res.Frames, res.Encoded, time.Since(sess.started).Round(time.Millisecond))
	return status
}

func (s *Server) store(ctx context.Context, key string, data []byte) error {
	w, err := s.storage.Write(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectKey is source/label-or-timestamp-id.ext.
func (s *Server) objectKey(sess *session) string {
	name := sess.started.UTC().Format("20060102-150405") + "-" + sess.id[:8]
	if sess.label != "" {
		name = cleanKey(sess.label) + "-" + sess.id[:8]
	}
	ext := ""
	if c, ok := s.engine.Registry().Lookup(s.config.Codec); ok && len(c.Extensions) > 0 {
		ext = "." + c.Extensions[0]
	}
	return cleanKey(sess.source) + "/" + name + ext
}

func cleanKey(s string) string {
	s = strings.Trim(unsafeKey.ReplaceAllString(s, "_"), "._")
	if s == "" {
		return "unnamed"
	}
	return s
}

// ABOUTME: End-to-end tests for the transcoding engine
// ABOUTME: Import, export, transcode and capture through the worker pool
package transcode

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/capture"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/stream"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/vad"
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := New(cfg)
	t.Cleanup(e.Close)
	return e
}

func wait(t *testing.T, task *Task) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	res, err := task.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("%s did not finish", task)
	}
	return res
}

func sineBuffer(rate, channels int, seconds float64) audio.Buffer {
	frames := int(float64(rate) * seconds)
	buf := audio.Buffer{
		Format:  audio.Format{SampleRate: rate, Channels: channels, BitDepth: 16},
		Samples: make([]int32, frames*channels),
	}
	for i := 0; i < frames; i++ {
		v := int32(12000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		for c := 0; c < channels; c++ {
			buf.Samples[i*channels+c] = v + int32(c)
		}
	}
	return buf
}

func wavBytes(t *testing.T, buf audio.Buffer) []byte {
	t.Helper()
	var out encode.WriteSeekBuffer
	enc, err := encode.NewWAV(&out, buf.Format, encode.Options{})
	if err != nil {
		t.Fatalf("NewWAV failed: %v", err)
	}
	if err := enc.Encode(buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return out.Bytes()
}

func equalSamples(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestImportWAV(t *testing.T) {
	e := newEngine(t, Config{Workers: 2})
	src := sineBuffer(44100, 2, 1)

	var completions atomic.Int32
	var last Progress
	task := e.Import(codec.FromBytes("tone.wav", wavBytes(t, src)), ImportOptions{
		Callbacks: Callbacks{
			OnProgress: func(p Progress) { last = p },
			OnComplete: func(Result) { completions.Add(1) },
		},
	})
	res := wait(t, task)

	if res.State != Succeeded {
		t.Fatalf("import %s: %v", res.State, res.Err)
	}
	if res.Buffer.NumFrames() != 44100 || res.Frames != 44100 {
		t.Errorf("expected 44100 frames, got %d (%d consumed)", res.Buffer.NumFrames(), res.Frames)
	}
	if !equalSamples(res.Buffer.Samples, src.Samples) {
		t.Error("imported samples differ from source")
	}
	if last.FramesProcessed != 44100 || last.TotalFrames != 44100 {
		t.Errorf("unexpected final progress %+v", last)
	}
	if completions.Load() != 1 {
		t.Errorf("OnComplete fired %d times", completions.Load())
	}
}

func TestImportTarget(t *testing.T) {
	e := newEngine(t, Config{Workers: 1})
	task := e.Import(codec.FromBytes("", wavBytes(t, sineBuffer(44100, 2, 1))), ImportOptions{
		Target: convert.Target{SampleRate: 22050, Channels: 1, Float: true},
	})
	res := wait(t, task)
	if res.State != Succeeded {
		t.Fatalf("import %s: %v", res.State, res.Err)
	}
	f := res.Buffer.Format
	if f.SampleRate != 22050 || f.Channels != 1 || !f.Float {
		t.Errorf("unexpected format %s", f)
	}
	if n := res.Buffer.NumFrames(); n < 22048 || n > 22052 {
		t.Errorf("expected about 22050 frames, got %d", n)
	}
}

func TestImportFailures(t *testing.T) {
	e := newEngine(t, Config{Workers: 2})
	tests := []struct {
		name string
		data []byte
		kind audio.Kind
	}{
		{"header truncated after 4 bytes", []byte("RIFF"), audio.CorruptHeader},
		{"not audio", []byte("this is a text file, not a sound"), audio.UnsupportedFormat},
		{"empty", nil, audio.UnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var completions atomic.Int32
			task := e.Import(codec.FromBytes("", tt.data), ImportOptions{
				Callbacks: Callbacks{OnComplete: func(Result) { completions.Add(1) }},
			})
			res := wait(t, task)
			if res.State != Failed {
				t.Fatalf("expected failed, got %s", res.State)
			}
			if audio.KindOf(res.Err) != tt.kind {
				t.Errorf("expected %s, got %v", tt.kind, res.Err)
			}
			if completions.Load() != 1 {
				t.Errorf("OnComplete fired %d times", completions.Load())
			}
		})
	}
}

func TestImportPartial(t *testing.T) {
	e := newEngine(t, Config{Workers: 1})
	data := wavBytes(t, sineBuffer(8000, 1, 1))
	data = data[:len(data)-1001]

	res := wait(t, e.Import(codec.FromBytes("", data), ImportOptions{}))
	if res.State != Succeeded {
		t.Fatalf("expected the decoded prefix to succeed, got %s: %v", res.State, res.Err)
	}
	if !res.Partial || !errors.Is(res.Warning, audio.ErrPartialDecode) {
		t.Errorf("expected a PartialDecode warning, got %v", res.Warning)
	}
	if n := res.Buffer.NumFrames(); n != 8000-501 {
		t.Errorf("expected %d frames, got %d", 8000-501, n)
	}
}

func TestCancelRunningImport(t *testing.T) {
	e := newEngine(t, Config{Workers: 1, FrameBudget: 256})
	progressed := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once

	task := e.Import(codec.FromBytes("", wavBytes(t, sineBuffer(44100, 2, 2))), ImportOptions{
		Callbacks: Callbacks{OnProgress: func(Progress) {
			once.Do(func() {
				close(progressed)
				<-resume
			})
		}},
	})
	<-progressed
	task.Cancel()
	close(resume)

	res := wait(t, task)
	if res.State != Cancelled {
		t.Fatalf("expected cancelled, got %s", res.State)
	}
	if !errors.Is(res.Err, audio.ErrCancelled) {
		t.Errorf("expected Cancelled error, got %v", res.Err)
	}
	if res.Buffer != nil {
		t.Error("cancelled import must not return a buffer")
	}
}

func TestCancelQueuedTask(t *testing.T) {
	e := newEngine(t, Config{Workers: 1})
	release := make(chan struct{})
	if err := e.pool.Submit(func() { <-release }); err != nil {
		t.Fatal(err)
	}

	var completions atomic.Int32
	task := e.Import(codec.FromBytes("", wavBytes(t, sineBuffer(8000, 1, 0.1))), ImportOptions{
		Callbacks: Callbacks{OnComplete: func(Result) { completions.Add(1) }},
	})
	if task.State() != Pending {
		t.Fatalf("expected pending, got %s", task.State())
	}
	task.Cancel()
	close(release)

	res := wait(t, task)
	if res.State != Cancelled {
		t.Errorf("expected cancelled, got %s", res.State)
	}
	if completions.Load() != 1 {
		t.Errorf("OnComplete fired %d times", completions.Load())
	}
}

func TestSubmitQueueFull(t *testing.T) {
	e := newEngine(t, Config{Workers: 1, Queue: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	e.pool.Submit(func() { close(started); <-release })
	<-started

	data := wavBytes(t, sineBuffer(8000, 1, 0.1))
	queued := e.Import(codec.FromBytes("", data), ImportOptions{})
	rejected := e.Import(codec.FromBytes("", data), ImportOptions{})

	res := wait(t, rejected)
	if res.State != Failed || !errors.Is(res.Err, audio.ErrBufferFull) {
		t.Errorf("expected BufferFull failure, got %s: %v", res.State, res.Err)
	}
	close(release)
	if res := wait(t, queued); res.State != Succeeded {
		t.Errorf("queued task %s: %v", res.State, res.Err)
	}
}

func TestExportRoundTrip(t *testing.T) {
	e := newEngine(t, Config{Workers: 2, FrameBudget: 1000})
	src := sineBuffer(48000, 2, 2)

	for _, id := range []codec.ID{codec.WAV, codec.FLAC} {
		t.Run(string(id), func(t *testing.T) {
			var out encode.WriteSeekBuffer
			res := wait(t, e.Export(src, &out, ExportOptions{Codec: id}))
			if res.State != Succeeded {
				t.Fatalf("export %s: %v", res.State, res.Err)
			}
			if res.Encoded != int64(out.Len()) || res.Frames != 96000 {
				t.Errorf("encoded %d of %d bytes, %d frames", res.Encoded, out.Len(), res.Frames)
			}

			back := wait(t, e.Import(codec.FromBytes("", out.Bytes()), ImportOptions{}))
			if back.State != Succeeded {
				t.Fatalf("import %s: %v", back.State, back.Err)
			}
			if !equalSamples(back.Buffer.Samples, src.Samples) {
				t.Error("round trip is not bit exact")
			}
		})
	}
}

func TestExportStreamingWAVImports(t *testing.T) {
	e := newEngine(t, Config{Workers: 2})
	src := sineBuffer(44100, 2, 1)

	// A plain writer gets the streaming header with unknown sizes.
	var out bytes.Buffer
	res := wait(t, e.Export(src, &out, ExportOptions{Codec: codec.WAV}))
	if res.State != Succeeded {
		t.Fatalf("export %s: %v", res.State, res.Err)
	}

	tests := []struct {
		name string
		src  *codec.Source
	}{
		{"bytes", codec.FromBytes("x.wav", out.Bytes())},
		{"reader", codec.FromReader("x.wav", bytes.NewBuffer(out.Bytes()))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			back := wait(t, e.Import(tt.src, ImportOptions{}))
			if back.State != Succeeded || back.Partial {
				t.Fatalf("import %s partial=%v: %v", back.State, back.Partial, back.Err)
			}
			if back.Buffer.NumFrames() != 44100 {
				t.Errorf("expected 44100 frames, got %d", back.Buffer.NumFrames())
			}
			if !equalSamples(back.Buffer.Samples, src.Samples) {
				t.Error("round trip is not bit exact")
			}
		})
	}
}

func TestExportRejects(t *testing.T) {
	e := newEngine(t, Config{Workers: 1})
	src := sineBuffer(8000, 1, 0.1)

	res := wait(t, e.Export(src, &bytes.Buffer{}, ExportOptions{Codec: codec.MP3}))
	if !errors.Is(res.Err, audio.ErrUnsupportedFeature) {
		t.Errorf("expected UnsupportedFeature for mp3, got %v", res.Err)
	}
	bad := audio.Buffer{Format: audio.Format{SampleRate: 8000, Channels: 2, BitDepth: 16}, Samples: []int32{1, 2, 3}}
	res = wait(t, e.Export(bad, &bytes.Buffer{}, ExportOptions{Codec: codec.WAV}))
	if res.State != Failed {
		t.Errorf("expected ragged buffer to fail, got %s", res.State)
	}
}

func TestTranscode(t *testing.T) {
	e := newEngine(t, Config{Workers: 2})
	src := sineBuffer(44100, 2, 1)
	in := wavBytes(t, src)

	var flac bytes.Buffer
	res := wait(t, e.Transcode(codec.FromBytes("in.wav", in), &flac, TranscodeOptions{Codec: codec.FLAC}))
	if res.State != Succeeded {
		t.Fatalf("transcode %s: %v", res.State, res.Err)
	}
	if res.Encoded != int64(flac.Len()) {
		t.Errorf("reported %d bytes, wrote %d", res.Encoded, flac.Len())
	}
	back := wait(t, e.Import(codec.FromBytes("", flac.Bytes()), ImportOptions{}))
	if back.State != Succeeded || !equalSamples(back.Buffer.Samples, src.Samples) {
		t.Fatalf("flac does not decode to the source: %s %v", back.State, back.Err)
	}

	var mono bytes.Buffer
	res = wait(t, e.Transcode(codec.FromBytes("", in), &mono, TranscodeOptions{
		Codec:  codec.WAV,
		Target: convert.Target{SampleRate: 16000, Channels: 1},
	}))
	if res.State != Succeeded {
		t.Fatalf("transcode %s: %v", res.State, res.Err)
	}
	back = wait(t, e.Import(codec.FromBytes("", mono.Bytes()), ImportOptions{}))
	if back.State != Succeeded {
		t.Fatalf("import %s: %v", back.State, back.Err)
	}
	if f := back.Buffer.Format; f.SampleRate != 16000 || f.Channels != 1 {
		t.Errorf("overrides not applied: %s", f)
	}
}

func TestTranscodeOpus(t *testing.T) {
	e := newEngine(t, Config{Workers: 1})
	var ogg bytes.Buffer
	res := wait(t, e.Transcode(codec.FromBytes("", wavBytes(t, sineBuffer(48000, 2, 1))), &ogg, TranscodeOptions{
		Codec:  codec.Opus,
		Encode: encode.Options{Quality: 80},
	}))
	if res.State != Succeeded {
		t.Fatalf("transcode %s: %v", res.State, res.Err)
	}
	back := wait(t, e.Import(codec.FromReader("", bytes.NewReader(ogg.Bytes())), ImportOptions{}))
	if back.State != Succeeded {
		t.Fatalf("import %s: %v", back.State, back.Err)
	}
	if n := back.Buffer.NumFrames(); n < 48000-960 || n > 48000+960 {
		t.Errorf("expected about 48000 frames, got %d", n)
	}
}

var blockPolicy = &stream.Policy{Mode: stream.Block}

func TestCaptureWithVAD(t *testing.T) {
	e := newEngine(t, Config{Workers: 1})
	dev := capture.NewTone(capture.ToneOptions{
		Format:   audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
		Pattern:  capture.SpeechPattern(),
		Duration: 4 * time.Second,
	})
	cfg := vad.DefaultConfig()

	var transitions []vad.State
	res := wait(t, e.Capture(dev, CaptureOptions{
		VAD:      &cfg,
		OnSpeech: func(s vad.State) { transitions = append(transitions, s) },
		Policy:   blockPolicy,
	}))
	if res.State != Succeeded {
		t.Fatalf("capture %s: %v", res.State, res.Err)
	}
	if res.Frames != 4*48000 {
		t.Errorf("consumed %d frames, want %d", res.Frames, 4*48000)
	}
	// Two seconds of tone plus one hangover tail.
	if n := res.Buffer.NumFrames(); n < 110000 || n > 130000 {
		t.Errorf("kept %d frames, want about 120000", n)
	}
	if len(transitions) < 3 || transitions[0] != vad.Speech || transitions[1] != vad.Silence {
		t.Errorf("unexpected transitions %v", transitions)
	}
}

func TestCaptureStop(t *testing.T) {
	e := newEngine(t, Config{Workers: 1})
	dev := capture.NewTone(capture.ToneOptions{Format: audio.Format{SampleRate: 16000, Channels: 1}})

	task := e.Capture(dev, CaptureOptions{Policy: blockPolicy, Discard: true})
	deadline := time.Now().Add(5 * time.Second)
	for task.Progress().FramesProcessed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("capture never progressed")
		}
		time.Sleep(time.Millisecond)
	}
	if task.Progress().TotalFrames != -1 {
		t.Errorf("capture total should be unknown, got %d", task.Progress().TotalFrames)
	}
	task.Stop()

	res := wait(t, task)
	if res.State != Succeeded {
		t.Fatalf("stopped capture %s: %v", res.State, res.Err)
	}
	if res.Buffer != nil {
		t.Error("discarded capture returned a buffer")
	}
}

func TestCaptureMaxDurationEncodes(t *testing.T) {
	e := newEngine(t, Config{Workers: 1})
	dev := capture.NewTone(capture.ToneOptions{Format: audio.Format{SampleRate: 16000, Channels: 1}})

	var wav encode.WriteSeekBuffer
	res := wait(t, e.Capture(dev, CaptureOptions{
		Policy:      blockPolicy,
		MaxDuration: 500 * time.Millisecond,
		Sink:        &wav,
		Codec:       codec.WAV,
	}))
	if res.State != Succeeded {
		t.Fatalf("capture %s: %v", res.State, res.Err)
	}
	if res.Frames < 8000 || int64(res.Buffer.NumFrames()) != res.Frames {
		t.Errorf("consumed %d frames, kept %d", res.Frames, res.Buffer.NumFrames())
	}
	if res.Encoded != int64(wav.Len()) {
		t.Errorf("reported %d bytes, wrote %d", res.Encoded, wav.Len())
	}

	back := wait(t, e.Import(codec.FromBytes("", wav.Bytes()), ImportOptions{}))
	if back.State != Succeeded || !equalSamples(back.Buffer.Samples, res.Buffer.Samples) {
		t.Errorf("live encoding differs from the kept buffer: %s %v", back.State, back.Err)
	}
}

type failingDevice struct{}

func (failingDevice) Format() audio.Format {
	return audio.Format{SampleRate: 8000, Channels: 1, BitDepth: 16}
}

func (failingDevice) Open(sink capture.Sink) error {
	go func() {
		sink.Push(make([]int32, 80))
		sink.Fail(errors.New("device unplugged"))
	}()
	return nil
}

func (failingDevice) Close() error { return nil }

func TestCaptureDeviceError(t *testing.T) {
	e := newEngine(t, Config{Workers: 1})
	res := wait(t, e.Capture(failingDevice{}, CaptureOptions{Policy: blockPolicy}))
	if res.State != Failed {
		t.Fatalf("expected failed, got %s", res.State)
	}
	if !errors.Is(res.Err, audio.ErrDeviceError) {
		t.Errorf("expected DeviceError, got %v", res.Err)
	}
}

// panicDecoder fails the way a broken third-party bitstream parser does.
type panicDecoder struct{ decode.Decoder }

func (panicDecoder) DecodeNext(int) (audio.StreamFrame, error) {
	panic("corrupt bitstream")
}

// panicEncoder panics on the first buffer.
type panicEncoder struct{ encode.Encoder }

func (panicEncoder) Encode(audio.Buffer) error {
	panic("encoder state corrupted")
}

func TestPipelinePanicFailsTask(t *testing.T) {
	reg := codec.DefaultRegistry()
	c, _ := reg.Lookup(codec.WAV)
	newDec, newEnc := c.NewDecoder, c.NewEncoder
	c.NewDecoder = func(r io.Reader, src *codec.Source) (decode.Decoder, error) {
		d, err := newDec(r, src)
		if err != nil {
			return nil, err
		}
		return panicDecoder{d}, nil
	}
	c.NewEncoder = func(w io.Writer, f audio.Format, opts encode.Options) (encode.Encoder, error) {
		enc, err := newEnc(w, f, opts)
		if err != nil {
			return nil, err
		}
		return panicEncoder{enc}, nil
	}
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	e := newEngine(t, Config{Workers: 2, Registry: reg})
	file := wavBytes(t, sineBuffer(8000, 1, 0.5))

	tests := []struct {
		name string
		task func() *Task
	}{
		{"import", func() *Task {
			return e.Import(codec.FromBytes("x.wav", file), ImportOptions{})
		}},
		{"transcode", func() *Task {
			return e.Transcode(codec.FromBytes("x.wav", file), &bytes.Buffer{}, TranscodeOptions{Codec: codec.FLAC})
		}},
		{"capture", func() *Task {
			dev := capture.NewTone(capture.ToneOptions{Format: audio.Format{SampleRate: 8000, Channels: 1}})
			return e.Capture(dev, CaptureOptions{Policy: blockPolicy, Sink: &bytes.Buffer{}, Codec: codec.WAV, Discard: true})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := wait(t, tt.task())
			if res.State != Failed {
				t.Fatalf("expected Failed, got %s: %v", res.State, res.Err)
			}
			if !errors.Is(res.Err, audio.ErrCorruptStream) {
				t.Errorf("expected CorruptStream, got %v", res.Err)
			}
		})
	}
}

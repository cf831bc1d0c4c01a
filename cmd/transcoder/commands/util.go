// ABOUTME: Helpers shared by the subcommands
// ABOUTME: Resolves inputs and outputs, builds engines and waits on tasks
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/config"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/fetch"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/storage"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/ui"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

// formatFlags override the output section of the config.
type formatFlags struct {
	rate     int
	channels int
	bits     int
	float    bool
	resample string
}

func addFormatFlags(cmd *cobra.Command) *formatFlags {
	f := &formatFlags{}
	cmd.Flags().IntVar(&f.rate, "rate", 0, "output sample rate in Hz (0 keeps the source rate)")
	cmd.Flags().IntVar(&f.channels, "channels", 0, "output channel count (0 keeps the source layout)")
	cmd.Flags().IntVar(&f.bits, "bits", 0, "output bit depth: 8, 16, 24 or 32 (0 keeps the source depth)")
	cmd.Flags().BoolVar(&f.float, "float", false, "output 32-bit float samples")
	cmd.Flags().StringVar(&f.resample, "resample", "", "resampler quality: linear, medium or high")
	return f
}

// apply copies the flags the user set onto cfg and revalidates it.
func (f *formatFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("rate") {
		cfg.Output.SampleRate = f.rate
	}
	if flags.Changed("channels") {
		cfg.Output.Channels = f.channels
	}
	if flags.Changed("bits") {
		cfg.Output.BitDepth = f.bits
	}
	if flags.Changed("float") {
		cfg.Output.Float = f.float
	}
	if flags.Changed("resample") {
		cfg.Output.Resample = f.resample
	}
	if err := cfg.Output.Validate(); err != nil {
		return fmt.Errorf("invalid output flags: %w", err)
	}
	return nil
}

func s3Options(cfg *config.Config) storage.S3Options {
	return storage.S3Options{
		Region:       cfg.Storage.Region,
		Endpoint:     cfg.Storage.Endpoint,
		UsePathStyle: cfg.Storage.UsePathStyle,
	}
}

func newEngine(cfg *config.Config, obs transcode.Observer) *transcode.Engine {
	tc := cfg.TranscodeConfig()
	tc.Observer = obs
	return transcode.New(tc)
}

// openInput resolves a local path, an http(s) URL or an s3:// object.
func openInput(ctx context.Context, cfg *config.Config, loc string) (*codec.Source, error) {
	switch {
	case fetch.IsURL(loc):
		dir := ""
		if cfg.Cache.Dir != "" {
			dir = filepath.Join(cfg.Cache.Dir, "downloads")
		}
		dl, err := fetch.NewDownloader(dir)
		if err != nil {
			return nil, err
		}
		return dl.Open(ctx, loc)

	case storage.IsRemote(loc):
		store, key, err := storage.OpenObject(loc, s3Options(cfg))
		if err != nil {
			return nil, err
		}
		rc, err := store.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		return codec.FromReader(key, rc), nil
	}
	return codec.FromFile(loc)
}

// output is an encoder destination. Local files are written in place;
// remote objects are staged in memory so container headers can be
// patched, then uploaded on Commit.
type output struct {
	loc   string
	file  *os.File
	stage *encode.WriteSeekBuffer
	store storage.Store
	key   string
}

func createOutput(cfg *config.Config, loc string) (*output, error) {
	if storage.IsRemote(loc) {
		store, key, err := storage.OpenObject(loc, s3Options(cfg))
		if err != nil {
			return nil, err
		}
		return &output{loc: loc, stage: &encode.WriteSeekBuffer{}, store: store, key: key}, nil
	}
	if dir := filepath.Dir(loc); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	f, err := os.Create(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", loc, err)
	}
	return &output{loc: loc, file: f}, nil
}

// Writer is where the encoder writes.
func (o *output) Writer() io.Writer {
	if o.file != nil {
		return o.file
	}
	return o.stage
}

// Commit finishes a successful write.
func (o *output) Commit(ctx context.Context) error {
	if o.file != nil {
		return o.file.Close()
	}
	w, err := o.store.Write(ctx, o.key)
	if err != nil {
		return err
	}
	if _, err := w.Write(o.stage.Bytes()); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload %s: %w", o.loc, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload %s: %w", o.loc, err)
	}
	log.Infof("Uploaded %s (%d bytes)", o.loc, o.stage.Len())
	return nil
}

// Abort discards a failed write.
func (o *output) Abort() {
	if o.file != nil {
		o.file.Close()
		os.Remove(o.loc)
	}
}

// outputCodec picks the codec from an explicit name or the output's extension.
func outputCodec(reg *codec.Registry, name, loc string) (codec.ID, error) {
	if name != "" {
		return reg.ParseID(name)
	}
	d, ok := reg.ByExtension(loc)
	if !ok {
		return "", fmt.Errorf("cannot infer a codec from %q, use --codec", loc)
	}
	return d.ID, nil
}

// await waits for tasks, through the progress view when --tui is set.
// Interrupting cancels them. Every task has finished when await returns.
func await(ctx context.Context, title string, items []ui.Item) error {
	cancelled := false
	if useTUI {
		var err error
		if cancelled, err = ui.RunProgress(title, items); err != nil {
			log.Warnf("progress view: %v", err)
		}
	}

	var firstErr error
	for _, it := range items {
		task := it.Task.(*transcode.Task)
		if _, err := task.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				task.Cancel()
				<-task.Done()
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", it.Label, err)
			}
		}
	}
	if cancelled && firstErr == nil {
		firstErr = audio.NewError(audio.Cancelled, title, context.Canceled)
	}
	return firstErr
}

// describeResult is the one-line summary printed after a task.
func describeResult(res transcode.Result, rate int) string {
	s := fmt.Sprintf("%d frames", res.Frames)
	if rate > 0 {
		s += fmt.Sprintf(" (%s)", audio.FormatDuration(res.Frames/int64(rate)))
	}
	if res.Encoded > 0 {
		s += fmt.Sprintf(", %d bytes", res.Encoded)
	}
	if res.Partial {
		s += fmt.Sprintf(", partial: %v", res.Warning)
	}
	return s
}

// ABOUTME: Cached imports
// ABOUTME: Serves repeated imports of unchanged files from the cache
package cache

import (
	"context"
	"fmt"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

// ImportFile imports path through e unless an entry for the file and
// target exists. Partial decodes are returned but never cached.
func (c *Cache) ImportFile(ctx context.Context, e *transcode.Engine, path string, opts transcode.ImportOptions) (transcode.Result, bool, error) {
	key, err := FileKey(path, opts.Target)
	if err != nil {
		return transcode.Result{}, false, err
	}

	buf, ok, err := c.Get(key)
	if err != nil {
		log.Warnf("cache: %s: %v", path, err)
	}
	if ok {
		log.Debugf("cache: hit %s", path)
		frames := int64(buf.NumFrames())
		return transcode.Result{
			State:  transcode.Succeeded,
			Buffer: &buf,
			Frames: frames,
		}, true, nil
	}

	src, err := codec.FromFile(path)
	if err != nil {
		return transcode.Result{}, false, audio.NewError(audio.UnsupportedFormat, "cache: open", err)
	}
	defer src.Close()

	task := e.Import(src, opts)
	res, err := task.Wait(ctx)
	if ctx.Err() != nil && res.State == transcode.Pending {
		// The source closes on return; let the decoder stop first.
		task.Cancel()
		<-task.Done()
	}
	if err != nil {
		return res, false, err
	}
	if res.State == transcode.Succeeded && !res.Partial && res.Buffer != nil {
		if err := c.Put(key, path, *res.Buffer); err != nil {
			return res, false, fmt.Errorf("cache: store %s: %w", path, err)
		}
	}
	return res, false, nil
}

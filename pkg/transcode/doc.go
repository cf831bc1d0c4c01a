// ABOUTME: Asynchronous transcoding engine package
// ABOUTME: Tasks, worker pool and the import, export, transcode and capture pipelines
// Package transcode runs audio jobs asynchronously.
//
// An Engine owns a codec registry and a fixed worker pool. Import, Export,
// Transcode and Capture return a *Task immediately; the work happens on a
// pool worker, with a decoder or capture device producing frames into a
// ring buffer and a consumer converting, gating and encoding them.
//
//	task := engine.Import(codec.FromBytes("song.flac", data), transcode.ImportOptions{})
//	res, err := task.Wait(ctx)
//
// Tasks move Pending -> Running -> Succeeded, Failed or Cancelled. The first
// terminal state wins and OnComplete fires exactly once.
package transcode

package batch

import "github.com/BaSui01/imageflow/types"

// EventSink receives the partial results of a running batch as they
// complete. Callbacks are invoked serially (never concurrently with each
// other), but the order in which different task slots resolve is
// unspecified; only the progress counter is monotonic.
type EventSink interface {
	// OnImage delivers one generated image, or the error-status
	// placeholder for a task slot whose retries were exhausted.
	OnImage(img types.GeneratedImage)
	// OnText delivers text content returned instead of (or alongside)
	// image data.
	OnText(text string)
	// OnProgress reports that another task slot has resolved. completed
	// is strictly increasing and ends at total for a non-cancelled batch.
	OnProgress(completed, total int)
}

// SinkFuncs adapts plain functions to the EventSink interface. Nil
// functions are ignored.
type SinkFuncs struct {
	Image    func(img types.GeneratedImage)
	Text     func(text string)
	Progress func(completed, total int)
}

func (s SinkFuncs) OnImage(img types.GeneratedImage) {
	if s.Image != nil {
		s.Image(img)
	}
}

func (s SinkFuncs) OnText(text string) {
	if s.Text != nil {
		s.Text(text)
	}
}

func (s SinkFuncs) OnProgress(completed, total int) {
	if s.Progress != nil {
		s.Progress(completed, total)
	}
}

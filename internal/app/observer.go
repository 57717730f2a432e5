package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/streamstudio/internal/observe"
	"github.com/MrWong99/streamstudio/internal/preview"
)

// notifier is satisfied by *server.Hub.
type notifier interface {
	Notify()
}

// previewObserver turns preview controller callbacks into metrics, log lines
// and event pushes. It runs under the controller lock and must not call back
// into the controller.
type previewObserver struct {
	metrics *observe.Metrics
	events  notifier
}

var _ preview.Observer = previewObserver{}

func (o previewObserver) Transition(from, to preview.State, source preview.Source) {
	o.metrics.RecordPreviewTransition(context.Background(), string(from), string(to))
	slog.Debug("preview transition", "from", from, "to", to, "source", source)
	o.events.Notify()
}

func (o previewObserver) DriftCorrected(audioPos, videoPos time.Duration) {
	o.metrics.RecordDriftCorrection(context.Background())
	slog.Debug("narration resynced", "audio", audioPos, "video", videoPos)
}

func (o previewObserver) PlaybackRejected(err error) {
	o.metrics.RecordPlaybackRejection(context.Background())
	slog.Info("preview playback rejected", "err", err)
	o.events.Notify()
}

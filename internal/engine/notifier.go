package engine

import (
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow/model"
)

// Notifier receives stage-completed events. Enqueue is at-most-once: a
// notifier that cannot accept an event drops it, and the transition that
// produced it still succeeds.
type Notifier interface {
	StageCompleted(event model.StageCompletedEvent)
}

// ChannelNotifier buffers events on a channel for an external publisher to
// drain. A full buffer drops the event with a warning instead of blocking
// the transition.
type ChannelNotifier struct {
	events chan model.StageCompletedEvent
	logger *zap.Logger

	// onDrop is invoked for every dropped event; nil means log-only.
	onDrop func()
}

// NewChannelNotifier creates a ChannelNotifier with the given buffer size.
func NewChannelNotifier(bufferSize int, logger *zap.Logger, onDrop func()) *ChannelNotifier {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelNotifier{
		events: make(chan model.StageCompletedEvent, bufferSize),
		logger: logger,
		onDrop: onDrop,
	}
}

// StageCompleted enqueues an event without blocking.
func (n *ChannelNotifier) StageCompleted(event model.StageCompletedEvent) {
	select {
	case n.events <- event:
	default:
		n.logger.Warn("stage-completed event dropped, notification queue full",
			zap.String("case_id", event.CaseID),
			zap.String("stage_id", event.CompletedStageID),
		)
		if n.onDrop != nil {
			n.onDrop()
		}
	}
}

// Events exposes the queue for the draining publisher.
func (n *ChannelNotifier) Events() <-chan model.StageCompletedEvent {
	return n.events
}

// NopNotifier discards all events.
type NopNotifier struct{}

// StageCompleted implements Notifier.
func (NopNotifier) StageCompleted(model.StageCompletedEvent) {}

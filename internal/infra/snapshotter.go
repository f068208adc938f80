package infra

import (
	"context"
	"log/slog"
	"time"

	"github.com/geoquest/platform/internal/domain"
)

// StateSource produces a point-in-time copy of the engine state.
type StateSource interface {
	Snapshot() *domain.State
}

// StateSaver persists a state copy.
type StateSaver interface {
	Save(ctx context.Context, st *domain.State) error
}

// Snapshotter periodically saves the engine state, independent of sample traffic.
type Snapshotter struct {
	source   StateSource
	saver    StateSaver
	logger   *slog.Logger
	interval time.Duration
	onSave   func(error)
	done     chan struct{}
}

// NewSnapshotter creates a snapshotter saving every interval.
func NewSnapshotter(source StateSource, saver StateSaver, interval time.Duration, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		source:   source,
		saver:    saver,
		logger:   logger,
		interval: interval,
		onSave:   func(error) {},
		done:     make(chan struct{}),
	}
}

// WithObserver registers a callback invoked after every save attempt.
func (s *Snapshotter) WithObserver(fn func(error)) *Snapshotter {
	if fn != nil {
		s.onSave = fn
	}
	return s
}

// Start begins saving in a goroutine. Stops when ctx is cancelled.
func (s *Snapshotter) Start(ctx context.Context) {
	s.logger.Info("snapshotter started", "interval", s.interval)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("snapshotter stopped")
				return
			case <-ticker.C:
				// failures are logged and retried on the next tick
				_ = s.SaveNow(ctx)
			}
		}
	}()
}

// Wait blocks until the background loop has exited.
func (s *Snapshotter) Wait() {
	<-s.done
}

// SaveNow takes a snapshot and saves it synchronously.
func (s *Snapshotter) SaveNow(ctx context.Context) error {
	st := s.source.Snapshot()
	err := s.saver.Save(ctx, st)
	s.onSave(err)
	if err != nil {
		s.logger.Error("snapshot save failed", "error", err)
		return err
	}
	s.logger.Debug("snapshot saved", "riders", len(st.Riders))
	return nil
}

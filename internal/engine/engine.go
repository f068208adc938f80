// Package engine turns raw position samples into accepted movement, rider
// progress and broadcast events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geoquest/platform/internal/domain"
	"github.com/geoquest/platform/internal/gamification"
	"github.com/geoquest/platform/internal/guard"
	"github.com/geoquest/platform/internal/store"
)

// Recorder observes sample outcomes ("accepted" or a rejection reason).
type Recorder interface {
	SampleProcessed(result string)
}

type nopRecorder struct{}

func (nopRecorder) SampleProcessed(string) {}

// Result is the committed outcome of an accepted sample.
type Result struct {
	Rider           *domain.Rider
	Movement        guard.Movement
	DeltaMeters     float64
	Award           gamification.Award
	NewBadges       []domain.Badge
	ChallengeEvents []domain.ChallengeEvent
}

// Engine is the rider telemetry and gamification pipeline.
type Engine struct {
	store      *store.RiderStore
	filter     *guard.SpeedFilter
	scorer     *gamification.Scorer
	tracker    *gamification.Tracker
	dispatcher *Dispatcher
	historyCap int
	metrics    Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an engine over st using cfg. d may be nil.
func New(st *store.RiderStore, cfg domain.EngineConfig, d *Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{
		store:      st,
		filter:     guard.NewSpeedFilter(cfg.MaxSpeedKmh),
		scorer:     gamification.NewScorer(cfg.PointsPerKm, cfg.BadgeMilestones),
		tracker:    gamification.NewTracker(cfg.ChallengeBonusPerKm),
		dispatcher: d,
		historyCap: cfg.HistoryCapacity,
		metrics:    nopRecorder{},
		logger:     logger,
		now:        time.Now,
	}
}

// WithMetrics sets the outcome recorder.
func (e *Engine) WithMetrics(r Recorder) *Engine {
	if r != nil {
		e.metrics = r
	}
	return e
}

// ProcessPosition handles one decoded position message and returns the ack
// for the submitting connection. Every outcome is data; nothing panics or
// escapes as an error.
func (e *Engine) ProcessPosition(ctx context.Context, p domain.PositionPayload) domain.AckResult {
	res, err := e.Process(ctx, p)
	if err != nil {
		reason := domain.ReasonFor(err)
		e.metrics.SampleProcessed(string(reason))
		return domain.AckResult{Accepted: false, Reason: reason}
	}
	e.metrics.SampleProcessed("accepted")
	return domain.AckResult{Accepted: true, ID: res.Rider.ID}
}

// Process validates, filters, scores and commits one sample. Rejections are
// returned as errors wrapping domain.ErrInvalidSample, domain.ErrUnknownRider
// or domain.ErrSpeedRejected.
func (e *Engine) Process(_ context.Context, p domain.PositionPayload) (*Result, error) {
	if err := domain.ValidatePositionPayload(p); err != nil {
		e.logger.Debug("sample rejected", "reason", domain.ReasonInvalid, "error", err)
		return nil, err
	}

	ts := e.now().UnixMilli()
	if p.TS != nil {
		ts = *p.TS
	}
	sample := domain.Position{Lat: *p.Lat, Lon: *p.Lon, TimestampMs: ts}

	var (
		res       *Result
		rejection error
	)
	_, err := e.store.Update(p.ID, func(rider *domain.Rider) error {
		verdict := e.filter.Check(rider.LastPosition, sample)
		if !verdict.Allowed {
			// the rejection itself is committed
			rider.SuspiciousCount++
			e.logger.Warn("sample rejected",
				"reason", domain.ReasonSpeed,
				"rider_id", rider.ID,
				"speed_kmh", verdict.SpeedKmh,
				"max_kmh", e.filter.MaxKmh(),
				"suspicious_count", rider.SuspiciousCount,
			)
			rejection = fmt.Errorf("%w: %s", domain.ErrSpeedRejected, verdict.Reason)
			return nil
		}
		res = e.apply(rider, sample, verdict)
		return nil
	}, func(*domain.Rider) {
		// dispatch under the rider lock so observers see this rider's events in commit order
		if res != nil {
			e.dispatcher.Dispatch(res)
		}
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownRider) {
			e.logger.Debug("sample rejected", "reason", domain.ReasonUnknownRider, "rider_id", p.ID)
		}
		return nil, err
	}
	if rejection != nil {
		return nil, rejection
	}
	return res, nil
}

func (e *Engine) apply(r *domain.Rider, sample domain.Position, v guard.SpeedVerdict) *Result {
	if v.Movement != guard.MovementStale {
		pos := sample
		r.LastPosition = &pos
		r.AppendHistory(domain.HistoryEntry{
			Lat:         sample.Lat,
			Lon:         sample.Lon,
			TimestampMs: sample.TimestampMs,
			DeltaMeters: v.DeltaMeters,
		}, e.historyCap)
	}

	prev := r.CumulativeDistanceMeters
	next := prev + v.DeltaMeters
	r.CumulativeDistanceMeters = next

	award := e.scorer.Award(prev, next)
	r.Score += award.PointsGained

	badges := e.scorer.CheckBadges(prev, next, r.HasBadge)
	for _, b := range badges {
		r.AwardBadge(b.ID)
	}

	events := e.tracker.AdvanceAll(r, e.store.Challenges(), sample.TimestampMs, v.DeltaMeters)

	return &Result{
		Rider:           r.Clone(),
		Movement:        v.Movement,
		DeltaMeters:     v.DeltaMeters,
		Award:           award,
		NewBadges:       badges,
		ChallengeEvents: events,
	}
}

package engine

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/geoquest/platform/internal/domain"
	"github.com/geoquest/platform/internal/geo"
	"github.com/geoquest/platform/internal/geo/geotest"
	"github.com/geoquest/platform/internal/guard"
	"github.com/geoquest/platform/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []any
}

func (b *recordingBroadcaster) Broadcast(msg any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *recordingBroadcaster) take() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.msgs
	b.msgs = nil
	return out
}

type recordingExporter struct {
	mu     sync.Mutex
	events []domain.GameEvent
}

func (x *recordingExporter) Export(ev domain.GameEvent) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.events = append(x.events, ev)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) SampleProcessed(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[result]++
}

type harness struct {
	engine   *Engine
	store    *store.RiderStore
	bus      *recordingBroadcaster
	exporter *recordingExporter
	metrics  *countingRecorder
	riderID  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.New()
	_, err := st.SeedChallenges(domain.DefaultChallenges())
	require.NoError(t, err)
	r, _, err := st.Register("ann@example.com", "Ann")
	require.NoError(t, err)

	bus := &recordingBroadcaster{}
	exp := &recordingExporter{}
	rec := &countingRecorder{counts: make(map[string]int)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(st, domain.DefaultEngineConfig(), NewDispatcher(bus, exp), logger).WithMetrics(rec)

	return &harness{engine: eng, store: st, bus: bus, exporter: exp, metrics: rec, riderID: r.ID}
}

func payload(id string, p geo.Point, ts int64) domain.PositionPayload {
	lat, lon := p.Lat, p.Lon
	return domain.PositionPayload{ID: id, Lat: &lat, Lon: &lon, TS: &ts}
}

func (h *harness) send(t *testing.T, p geo.Point, ts int64) domain.AckResult {
	t.Helper()
	return h.engine.ProcessPosition(context.Background(), payload(h.riderID, p, ts))
}

func (h *harness) rider(t *testing.T) *domain.Rider {
	t.Helper()
	r, err := h.store.Resolve(h.riderID)
	require.NoError(t, err)
	return r
}

var origin = geo.Point{Lat: 50.0, Lon: 3.0}

// --- Scenario tests ---

func TestScenarioA_FirstFixEstablishesPosition(t *testing.T) {
	h := newHarness(t)

	ack := h.send(t, origin, 1000)
	assert.Equal(t, domain.AckResult{Accepted: true, ID: h.riderID}, ack)

	r := h.rider(t)
	require.NotNil(t, r.LastPosition)
	assert.Equal(t, domain.Position{Lat: 50.0, Lon: 3.0, TimestampMs: 1000}, *r.LastPosition)
	assert.Zero(t, r.CumulativeDistanceMeters)
	assert.Zero(t, r.Score)
	require.Len(t, r.RecentHistory, 1)
	assert.Zero(t, r.RecentHistory[0].DeltaMeters)

	msgs := h.bus.take()
	require.Len(t, msgs, 1, "only rider_update")
	upd, ok := msgs[0].(domain.RiderUpdate)
	require.True(t, ok)
	assert.Equal(t, domain.RiderView{ID: h.riderID, Name: "Ann", Lat: 50, Lon: 3, Distance: 0, Score: 0}, upd.Rider)
	assert.Empty(t, h.exporter.events)
}

func TestScenarioB_FirstKilometerAwardsPointsBadgeAndChallenge(t *testing.T) {
	h := newHarness(t)
	h.send(t, origin, 1000)
	h.bus.take()

	ack := h.send(t, geotest.Offset(origin, 1000, 0), 1000+3_600_000)
	require.True(t, ack.Accepted)

	r := h.rider(t)
	assert.InDelta(t, 1000.0, r.CumulativeDistanceMeters, 0.5)
	assert.Equal(t, int64(10+5), r.Score, "10 points for the km plus the daily bonus")
	assert.Equal(t, []string{"badge_1000"}, r.Badges)
	assert.True(t, r.ChallengeProgress["daily_1k"].Completed)
	assert.Equal(t, int64(1000+3_600_000), r.ChallengeProgress["daily_1k"].CompletedAtMs)
	assert.False(t, r.ChallengeProgress["weekly_5k"].Completed)

	msgs := h.bus.take()
	require.Len(t, msgs, 2)
	upd := msgs[0].(domain.RiderUpdate)
	assert.Equal(t, int64(1000), upd.Rider.Distance)
	assert.Equal(t, int64(15), upd.Rider.Score)

	ev := msgs[1].(domain.GameEvent)
	assert.Equal(t, domain.MessageGameEvent, ev.Type)
	assert.Equal(t, h.riderID, ev.RiderID)
	assert.Equal(t, "Ann", ev.Name)
	assert.Equal(t, int64(1), ev.KmsGained)
	assert.Equal(t, int64(10), ev.PointsGained)
	assert.Equal(t, []domain.Badge{{ID: "badge_1000", Label: "1 km"}}, ev.NewBadges)
	assert.Equal(t, []domain.ChallengeEvent{{
		Type: domain.ChallengeCompleted, ChallengeID: "daily_1k", RiderID: h.riderID, BonusPoints: 5,
	}}, ev.ChallengeEvents)

	require.Len(t, h.exporter.events, 1)
	assert.Equal(t, ev, h.exporter.events[0])
}

func TestScenarioC_ImpliedSpeedRejected(t *testing.T) {
	h := newHarness(t)
	h.send(t, origin, 1000)
	second := geotest.Offset(origin, 1000, 0)
	h.send(t, second, 1000+3_600_000)
	before := h.rider(t)
	h.bus.take()

	ack := h.send(t, geotest.Offset(second, 5000, 0), 1000+3_600_000+10_000)
	assert.Equal(t, domain.AckResult{Accepted: false, Reason: domain.ReasonSpeed}, ack)

	after := h.rider(t)
	assert.Equal(t, before.LastPosition, after.LastPosition)
	assert.Equal(t, before.CumulativeDistanceMeters, after.CumulativeDistanceMeters)
	assert.Equal(t, before.Score, after.Score)
	assert.Equal(t, before.Badges, after.Badges)
	assert.Equal(t, before.ChallengeProgress, after.ChallengeProgress)
	assert.Equal(t, before.RecentHistory, after.RecentHistory)
	assert.Equal(t, before.SuspiciousCount+1, after.SuspiciousCount)
	assert.Equal(t, 1, after.SuspiciousCount)

	assert.Empty(t, h.bus.take(), "rejections are never broadcast")
	assert.Equal(t, 1, h.metrics.counts["speed"])
}

func TestScenarioD_UnknownRiderRejected(t *testing.T) {
	h := newHarness(t)

	ack := h.engine.ProcessPosition(context.Background(), payload("ghost", origin, 1000))
	assert.Equal(t, domain.AckResult{Accepted: false, Reason: domain.ReasonUnknownRider}, ack)

	_, err := h.store.Resolve("ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownRider)
	assert.Equal(t, 1, h.store.Count())
	assert.Empty(t, h.bus.take())
}

func TestScenarioE_MidnightRolloverStartsFreshWindow(t *testing.T) {
	h := newHarness(t)
	late := time.Date(2026, 3, 4, 23, 50, 0, 0, time.UTC)

	h.send(t, origin, late.UnixMilli())
	p1 := geotest.Offset(origin, 600, 0)
	require.True(t, h.send(t, p1, late.Add(5*time.Minute).UnixMilli()).Accepted)
	assert.InDelta(t, 600, h.rider(t).ChallengeProgress["daily_1k"].ProgressMeters, 0.5)

	p2 := geotest.Offset(p1, 500, 0)
	require.True(t, h.send(t, p2, late.Add(15*time.Minute).UnixMilli()).Accepted)

	r := h.rider(t)
	daily := r.ChallengeProgress["daily_1k"]
	assert.Equal(t, "2026-03-05", daily.WindowKey)
	assert.InDelta(t, 500, daily.ProgressMeters, 0.5, "no carry-over from the previous day")
	assert.False(t, daily.Completed)

	weekly := r.ChallengeProgress["weekly_5k"]
	assert.Equal(t, "2026-03-02", weekly.WindowKey)
	assert.InDelta(t, 1100, weekly.ProgressMeters, 1, "same ISO week keeps accumulating")
}

func TestLateSampleFromPreviousDayResetsDailyWindow(t *testing.T) {
	h := newHarness(t)
	morning := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	h.send(t, origin, morning.UnixMilli())
	p1 := geotest.Offset(origin, 1200, 0)
	require.True(t, h.send(t, p1, morning.Add(time.Hour).UnixMilli()).Accepted)
	require.True(t, h.rider(t).ChallengeProgress["daily_1k"].Completed)

	// a delayed fix stamped the previous day is a zero-distance refresh
	ack := h.send(t, p1, morning.Add(-24*time.Hour).UnixMilli())
	require.True(t, ack.Accepted)

	r := h.rider(t)
	daily := r.ChallengeProgress["daily_1k"]
	assert.Equal(t, "2026-03-04", daily.WindowKey)
	assert.False(t, daily.Completed)
	assert.Zero(t, daily.ProgressMeters)
	assert.Equal(t, "2026-03-02", r.ChallengeProgress["weekly_5k"].WindowKey, "same ISO week is untouched")
	assert.InDelta(t, 1200, r.CumulativeDistanceMeters, 0.5)
	assert.Equal(t, morning.Add(time.Hour).UnixMilli(), r.LastPosition.TimestampMs)
}

// --- Property tests ---

func TestInvalidSamplesNeverMutate(t *testing.T) {
	h := newHarness(t)
	h.send(t, origin, 1000)
	before := h.rider(t)
	h.bus.take()

	lat := 50.0
	cases := map[string]domain.PositionPayload{
		"missing id":  {Lat: &lat, Lon: &lat},
		"missing lat": {ID: h.riderID, Lon: &lat},
		"missing lon": {ID: h.riderID, Lat: &lat},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			ack := h.engine.ProcessPosition(context.Background(), p)
			assert.Equal(t, domain.AckResult{Accepted: false, Reason: domain.ReasonInvalid}, ack)
		})
	}

	assert.Equal(t, before, h.rider(t))
	assert.Empty(t, h.bus.take())
}

func TestStaleSampleAcceptedWithoutDistance(t *testing.T) {
	h := newHarness(t)
	h.send(t, origin, 10_000)
	h.bus.take()

	far := geotest.Offset(origin, 50_000, 0)
	for _, ts := range []int64{10_000, 5_000} {
		ack := h.send(t, far, ts)
		assert.True(t, ack.Accepted, "ts=%d", ts)
	}

	r := h.rider(t)
	assert.Zero(t, r.CumulativeDistanceMeters)
	assert.Equal(t, int64(10_000), r.LastPosition.TimestampMs, "time never moves backward")
	assert.Equal(t, origin.Lat, r.LastPosition.Lat)
	assert.Len(t, r.RecentHistory, 1)
	assert.Zero(t, r.SuspiciousCount)

	msgs := h.bus.take()
	require.Len(t, msgs, 2, "one rider_update per accepted refresh")
	for _, m := range msgs {
		upd, ok := m.(domain.RiderUpdate)
		require.True(t, ok)
		// observers keep seeing the previous fix
		assert.Equal(t, origin.Lat, upd.Rider.Lat)
		assert.Equal(t, origin.Lon, upd.Rider.Lon)
	}
}

func TestDefaultTimestampIsReceiptTime(t *testing.T) {
	h := newHarness(t)
	fixed := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	h.engine.now = func() time.Time { return fixed }

	lat, lon := origin.Lat, origin.Lon
	ack := h.engine.ProcessPosition(context.Background(), domain.PositionPayload{ID: h.riderID, Lat: &lat, Lon: &lon})
	require.True(t, ack.Accepted)
	assert.Equal(t, fixed.UnixMilli(), h.rider(t).LastPosition.TimestampMs)
}

func TestMonotonicityOverRandomWalk(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(7))

	pos := origin
	ts := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC).UnixMilli()
	var lastDist float64
	var lastScore int64
	badges := map[string]bool{}

	for i := 0; i < 500; i++ {
		// mix of plausible steps, teleports and stale timestamps
		step := rng.Float64() * 400
		if rng.Intn(10) == 0 {
			step = 20_000
		}
		next := geotest.Offset(pos, step*(rng.Float64()-0.5)*2, step*(rng.Float64()-0.5)*2)
		dt := int64(rng.Intn(120_000)) - 10_000

		ack := h.send(t, next, ts+dt)
		if ack.Accepted && dt > 0 {
			pos, ts = next, ts+dt
		}

		r := h.rider(t)
		require.GreaterOrEqual(t, r.CumulativeDistanceMeters, lastDist)
		require.GreaterOrEqual(t, r.Score, lastScore)
		for b := range badges {
			require.True(t, r.HasBadge(b), "badge %s removed", b)
		}
		seen := map[string]bool{}
		for _, b := range r.Badges {
			require.False(t, seen[b], "badge %s duplicated", b)
			seen[b] = true
			badges[b] = true
		}
		require.LessOrEqual(t, len(r.RecentHistory), 200)
		lastDist, lastScore = r.CumulativeDistanceMeters, r.Score
	}
}

func TestHistoryCapacityBounded(t *testing.T) {
	h := newHarness(t)
	pos := origin
	for i := 0; i < 250; i++ {
		pos = geotest.Offset(pos, 10, 0)
		require.True(t, h.send(t, pos, int64(1000+i*10_000)).Accepted)
	}
	r := h.rider(t)
	require.Len(t, r.RecentHistory, 200)
	assert.Equal(t, int64(1000+50*10_000), r.RecentHistory[0].TimestampMs)
}

func TestConcurrentSamplesSameRiderNoLostUpdates(t *testing.T) {
	h := newHarness(t)
	h.send(t, origin, 0)

	// every sample is 10 m east of the previous accepted fix at a later ts
	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ack := h.send(t, geotest.Offset(origin, 0, float64(i)*10), int64(i)*60_000)
			if ack.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	r := h.rider(t)
	assert.Equal(t, n, accepted)
	var sum float64
	for _, e := range r.RecentHistory {
		sum += e.DeltaMeters
	}
	assert.InDelta(t, r.CumulativeDistanceMeters, sum, 1e-6, "distance equals the sum of committed deltas")
	assert.Equal(t, 0, r.SuspiciousCount)
}

func TestConcurrentRidersIndependent(t *testing.T) {
	h := newHarness(t)
	ids := make([]string, 20)
	for i := range ids {
		r, _, err := h.store.Register(string(rune('a'+i))+"@example.com", "")
		require.NoError(t, err)
		ids[i] = r.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			pos := origin
			for j := 0; j <= 20; j++ {
				ack := h.engine.ProcessPosition(context.Background(), payload(id, pos, int64(j)*60_000))
				assert.True(t, ack.Accepted)
				pos = geotest.Offset(pos, 100, 0)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		r, err := h.store.Resolve(id)
		require.NoError(t, err)
		assert.InDelta(t, 2000, r.CumulativeDistanceMeters, 1)
		assert.Equal(t, []string{"badge_1000"}, r.Badges)
	}
	assert.Equal(t, 20*21, h.metrics.counts["accepted"])
}

// --- Dispatcher tests ---

func TestEvents_OrderAndSuppression(t *testing.T) {
	r := domain.NewRider("r1", "Ann", "")
	r.LastPosition = &domain.Position{Lat: 1, Lon: 2}

	quiet := Events(&Result{Rider: r})
	require.Len(t, quiet, 1)
	assert.IsType(t, domain.RiderUpdate{}, quiet[0])

	loud := Events(&Result{Rider: r, NewBadges: []domain.Badge{{ID: "badge_1000", Label: "1 km"}}})
	require.Len(t, loud, 2)
	assert.IsType(t, domain.RiderUpdate{}, loud[0])
	ev := loud[1].(domain.GameEvent)
	assert.NotNil(t, ev.ChallengeEvents, "empty lists encode as []")
	assert.Zero(t, ev.KmsGained)
}

func TestDispatch_NilSafe(t *testing.T) {
	var d *Dispatcher
	assert.NotPanics(t, func() { d.Dispatch(&Result{Rider: domain.NewRider("r1", "", "")}) })
	assert.NotPanics(t, func() { NewDispatcher(nil).Dispatch(&Result{Rider: domain.NewRider("r1", "", "")}) })
}

func TestMovementReported(t *testing.T) {
	h := newHarness(t)
	res, err := h.engine.Process(context.Background(), payload(h.riderID, origin, 1000))
	require.NoError(t, err)
	assert.Equal(t, guard.MovementInitial, res.Movement)

	res, err = h.engine.Process(context.Background(), payload(h.riderID, geotest.Offset(origin, 100, 0), 61_000))
	require.NoError(t, err)
	assert.Equal(t, guard.MovementForward, res.Movement)
	assert.InDelta(t, 100, res.DeltaMeters, 0.1)

	_, err = h.engine.Process(context.Background(), payload(h.riderID, geotest.Offset(origin, 100_000, 0), 62_000))
	assert.ErrorIs(t, err, domain.ErrSpeedRejected)
}

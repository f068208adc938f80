package engine

import (
	"github.com/geoquest/platform/internal/domain"
)

// Broadcaster fans a message out to every connected observer without blocking.
type Broadcaster interface {
	Broadcast(msg any)
}

// Exporter receives game events for delivery outside the process. Export must not block.
type Exporter interface {
	Export(ev domain.GameEvent)
}

// Dispatcher turns the outcome of an accepted sample into broadcast events.
type Dispatcher struct {
	observers Broadcaster
	exporters []Exporter
}

// NewDispatcher creates a dispatcher. A nil broadcaster drops all events.
func NewDispatcher(observers Broadcaster, exporters ...Exporter) *Dispatcher {
	return &Dispatcher{observers: observers, exporters: exporters}
}

// Events returns, in order, the rider_update for res and, when anything was
// gained, the game_event.
func Events(res *Result) []any {
	out := []any{domain.NewRiderUpdate(res.Rider)}
	if ev, ok := GameEvent(res); ok {
		out = append(out, ev)
	}
	return out
}

// GameEvent builds the game_event for res. ok is false when nothing was gained.
func GameEvent(res *Result) (domain.GameEvent, bool) {
	ev := domain.GameEvent{
		Type:            domain.MessageGameEvent,
		RiderID:         res.Rider.ID,
		Name:            res.Rider.Name,
		KmsGained:       res.Award.KmGained,
		PointsGained:    res.Award.PointsGained,
		NewBadges:       res.NewBadges,
		ChallengeEvents: res.ChallengeEvents,
	}
	if ev.NewBadges == nil {
		ev.NewBadges = []domain.Badge{}
	}
	if ev.ChallengeEvents == nil {
		ev.ChallengeEvents = []domain.ChallengeEvent{}
	}
	return ev, !ev.Empty()
}

// Dispatch emits the events for one accepted sample.
func (d *Dispatcher) Dispatch(res *Result) {
	if d == nil || res == nil || res.Rider == nil {
		return
	}
	for _, msg := range Events(res) {
		if d.observers != nil {
			d.observers.Broadcast(msg)
		}
		if ev, ok := msg.(domain.GameEvent); ok {
			for _, x := range d.exporters {
				x.Export(ev)
			}
		}
	}
}

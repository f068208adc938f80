package domain

import "encoding/json"

// Message types exchanged with observers and submitting connections.
const (
	MessagePosition    = "position"
	MessagePing        = "ping"
	MessagePong        = "pong"
	MessageAck         = "ack"
	MessageError       = "error"
	MessageRiderUpdate = "rider_update"
	MessageGameEvent   = "game_event"
	MessageSnapshot    = "snapshot"

	ChallengeCompleted = "challenge_completed"
)

// Reason is the ack.reason value for a rejected sample.
type Reason string

const (
	ReasonInvalid      Reason = "invalid"
	ReasonUnknownRider Reason = "unknown_rider"
	ReasonSpeed        Reason = "speed"
)

// Inbound is the decoded envelope of a client frame.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PositionPayload is the body of a "position" message. Pointers distinguish absent fields.
type PositionPayload struct {
	ID  string   `json:"id"`
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
	TS  *int64   `json:"ts,omitempty"`
}

// AckResult is the outcome of one submitted sample.
type AckResult struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
	ID       string `json:"id,omitempty"`
}

// Ack is sent only to the submitting connection.
type Ack struct {
	Type   string    `json:"type"`
	Result AckResult `json:"result"`
}

// NewAck wraps a result in its envelope.
func NewAck(r AckResult) Ack {
	return Ack{Type: MessageAck, Result: r}
}

// ErrorMessage reports a transport-level failure to the sender.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewErrorMessage builds an error frame.
func NewErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: MessageError, Error: msg}
}

// RiderView is the public projection of a rider carried by rider_update.
type RiderView struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Distance int64   `json:"distance"`
	Score    int64   `json:"score"`
}

// RiderUpdate is broadcast for every accepted sample.
type RiderUpdate struct {
	Type  string    `json:"type"`
	Rider RiderView `json:"rider"`
}

// NewRiderUpdate projects the committed rider into a broadcast event. The
// coordinates are the last accepted fix, so a stale refresh repeats it.
func NewRiderUpdate(r *Rider) RiderUpdate {
	v := RiderView{
		ID:       r.ID,
		Name:     r.Name,
		Distance: r.RoundedDistance(),
		Score:    r.Score,
	}
	if r.LastPosition != nil {
		v.Lat = r.LastPosition.Lat
		v.Lon = r.LastPosition.Lon
	}
	return RiderUpdate{Type: MessageRiderUpdate, Rider: v}
}

// Badge is a newly earned badge as shown to observers.
type Badge struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ChallengeEvent reports a challenge completed within its window.
type ChallengeEvent struct {
	Type        string `json:"type"`
	ChallengeID string `json:"challengeId"`
	RiderID     string `json:"riderId"`
	BonusPoints int64  `json:"bonusPoints"`
}

// GameEvent is broadcast when a sample produced points, badges or challenge completions.
type GameEvent struct {
	Type            string           `json:"type"`
	RiderID         string           `json:"riderId"`
	Name            string           `json:"name"`
	KmsGained       int64            `json:"kmsGained"`
	PointsGained    int64            `json:"pointsGained"`
	NewBadges       []Badge          `json:"newBadges"`
	ChallengeEvents []ChallengeEvent `json:"challengeEvents"`
}

// Empty reports whether the event carries nothing worth broadcasting.
func (g GameEvent) Empty() bool {
	return g.KmsGained == 0 && g.PointsGained == 0 && len(g.NewBadges) == 0 && len(g.ChallengeEvents) == 0
}

// Snapshot is sent once to each observer on connect.
type Snapshot struct {
	Type       string               `json:"type"`
	Riders     map[string]*Rider    `json:"riders"`
	Challenges map[string]Challenge `json:"challenges"`
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geoquest/platform/internal/auth"
	"github.com/geoquest/platform/internal/domain"
	"github.com/geoquest/platform/internal/engine"
	"github.com/geoquest/platform/internal/guard"
	"github.com/geoquest/platform/internal/infra"
	"github.com/geoquest/platform/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) *store.RiderStore {
	t.Helper()
	st := store.New()
	_, err := st.SeedChallenges(domain.DefaultChallenges())
	require.NoError(t, err)
	return st
}

// --- AuthHandler Tests ---

func TestRegister(t *testing.T) {
	st := seededStore(t)
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	h := NewAuthHandler(st, jwtMgr, noopLogger())

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.Register(w, httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString(body)))
		return w
	}

	w := post(`{"email":"Ann@Example.com","name":"Ann"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var first RegisterResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&first))
	assert.NotEmpty(t, first.RiderID)
	assert.Equal(t, "Ann", first.Name)

	claims, err := jwtMgr.ValidateRiderToken(first.Token)
	require.NoError(t, err)
	assert.Equal(t, first.RiderID, claims.Subject)

	w = post(`{"email":"ann@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code, "re-registering returns the existing rider")
	var second RegisterResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&second))
	assert.Equal(t, first.RiderID, second.RiderID)
	assert.Equal(t, 1, st.Count())

	t.Run("validation", func(t *testing.T) {
		for _, body := range []string{`{bad`, `{"email":"nope"}`, `{"email":"a@b.co","name":"` + strings.Repeat("x", 65) + `"}`} {
			w := post(body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
			assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
		}
	})
}

// --- RiderHandler Tests ---

func riderRouter(h *RiderHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/riders", h.List)
	r.Get("/riders/{id}", h.Get)
	r.Get("/challenges", h.Challenges)
	r.Get("/leaderboard", h.Leaderboard)
	return r
}

func TestRiderHandler_GetAndList(t *testing.T) {
	st := seededStore(t)
	ann, _, err := st.Register("ann@example.com", "Ann")
	require.NoError(t, err)
	router := riderRouter(NewRiderHandler(st))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/riders/"+ann.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Rider
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "Ann", got.Name)
	assert.Empty(t, got.Email, "email stays private")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/riders/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/riders", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var all []domain.Rider
	require.NoError(t, json.NewDecoder(w.Body).Decode(&all))
	assert.Len(t, all, 1)
}

func TestRiderHandler_GetMe(t *testing.T) {
	st := seededStore(t)
	ann, _, err := st.Register("ann@example.com", "Ann")
	require.NoError(t, err)
	h := NewRiderHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/riders/me", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Realm: auth.RealmRider}))
	w := httptest.NewRecorder()
	h.GetMe(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "claims without subject")

	claims := &auth.Claims{Realm: auth.RealmRider}
	claims.Subject = ann.ID
	req = httptest.NewRequest(http.MethodGet, "/riders/me", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	w = httptest.NewRecorder()
	h.GetMe(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Rider
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "ann@example.com", got.Email)
}

func TestRiderHandler_ChallengesAndLeaderboard(t *testing.T) {
	st := seededStore(t)
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		r, _, err := st.Register(email, "")
		require.NoError(t, err)
		score := int64(i * 10)
		_, err = st.Update(r.ID, func(r *domain.Rider) error { r.Score = score; return nil }, nil)
		require.NoError(t, err)
	}
	router := riderRouter(NewRiderHandler(st))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/challenges", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var chs []domain.Challenge
	require.NoError(t, json.NewDecoder(w.Body).Decode(&chs))
	assert.Equal(t, domain.DefaultChallenges(), chs)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaderboard?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var board []leaderboardEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&board))
	require.Len(t, board, 2)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "c", board[0].Name)
	assert.Equal(t, int64(20), board[0].Score)
	assert.NotNil(t, board[0].Badges)

	for _, q := range []string{"0", "-1", "x"} {
		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaderboard?limit="+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

// --- HealthHandler Tests ---

type fakePinger struct{ err error }

func (p fakePinger) Ping(_ context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	st := seededStore(t)
	_, _, err := st.Register("ann@example.com", "Ann")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	HealthHandler(st, func() int { return 2 }, nil)(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 1.0, body["riders"])
	assert.Equal(t, 2.0, body["observers"])

	w = httptest.NewRecorder()
	HealthHandler(st, nil, fakePinger{err: assert.AnError})(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

// --- WSHandler Tests ---

type wsFixture struct {
	store  *store.RiderStore
	hub    *infra.WSHub
	server *httptest.Server
	rider  *domain.Rider
}

func newWSFixture(t *testing.T, limiter *guard.RateLimiter) *wsFixture {
	t.Helper()
	st := seededStore(t)
	ann, _, err := st.Register("ann@example.com", "Ann")
	require.NoError(t, err)

	hub := infra.NewWSHub(16, noopLogger())
	eng := engine.New(st, domain.DefaultEngineConfig(), engine.NewDispatcher(hub), noopLogger())
	h := NewWSHandler(hub, eng, st, limiter, noopLogger())

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &wsFixture{store: st, hub: hub, server: srv, rider: ann}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestWS_SnapshotOnConnect(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.dial(t)

	snap := readFrame(t, conn)
	assert.Equal(t, "snapshot", snap["type"])
	riders := snap["riders"].(map[string]any)
	require.Contains(t, riders, f.rider.ID)
	assert.NotContains(t, riders[f.rider.ID].(map[string]any), "email")
	assert.Len(t, snap["challenges"].(map[string]any), 2)
}

func TestWS_PositionFlow(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.dial(t)
	readFrame(t, conn) // snapshot

	send(t, conn, `{"type":"position","payload":{"id":"`+f.rider.ID+`","lat":50,"lon":3,"ts":1000}}`)

	upd := readFrame(t, conn)
	assert.Equal(t, "rider_update", upd["type"])
	assert.Equal(t, f.rider.ID, upd["rider"].(map[string]any)["id"])

	ack := readFrame(t, conn)
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, map[string]any{"accepted": true, "id": f.rider.ID}, ack["result"])

	r, err := f.store.Resolve(f.rider.ID)
	require.NoError(t, err)
	require.NotNil(t, r.LastPosition)
	assert.Equal(t, int64(1000), r.LastPosition.TimestampMs)
}

func TestWS_Rejections(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.dial(t)
	readFrame(t, conn)

	tests := []struct {
		name  string
		frame string
		want  map[string]any
	}{
		{"unknown rider", `{"type":"position","payload":{"id":"ghost","lat":50,"lon":3}}`,
			map[string]any{"type": "ack", "result": map[string]any{"accepted": false, "reason": "unknown_rider"}}},
		{"non-numeric lat", `{"type":"position","payload":{"id":"` + f.rider.ID + `","lat":"abc","lon":3}}`,
			map[string]any{"type": "ack", "result": map[string]any{"accepted": false, "reason": "invalid"}}},
		{"missing payload", `{"type":"position"}`,
			map[string]any{"type": "ack", "result": map[string]any{"accepted": false, "reason": "invalid"}}},
		{"malformed frame", `not json`,
			map[string]any{"type": "error", "error": "malformed message"}},
		{"unknown type", `{"type":"teleport"}`,
			map[string]any{"type": "error", "error": "unknown message type"}},
		{"ping", `{"type":"ping"}`,
			map[string]any{"type": "pong"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.frame)
			assert.Equal(t, tt.want, readFrame(t, conn))
		})
	}

	r, err := f.store.Resolve(f.rider.ID)
	require.NoError(t, err)
	assert.Nil(t, r.LastPosition, "rejections never mutate state")
}

func TestWS_RateLimited(t *testing.T) {
	f := newWSFixture(t, guard.NewRateLimiter(1, time.Minute))
	conn := f.dial(t)
	readFrame(t, conn)

	send(t, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", readFrame(t, conn)["type"])

	send(t, conn, `{"type":"ping"}`)
	assert.Equal(t, map[string]any{"type": "error", "error": "rate limited"}, readFrame(t, conn))
}

func TestWS_BroadcastReachesOtherObservers(t *testing.T) {
	f := newWSFixture(t, nil)
	rider := f.dial(t)
	observer := f.dial(t)
	readFrame(t, rider)
	readFrame(t, observer)

	require.Eventually(t, func() bool { return f.hub.ConnectionCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	send(t, rider, `{"type":"position","payload":{"id":"`+f.rider.ID+`","lat":50,"lon":3,"ts":1000}}`)

	upd := readFrame(t, observer)
	assert.Equal(t, "rider_update", upd["type"])
}

func TestWS_DisconnectLeavesHub(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.dial(t)
	readFrame(t, conn)
	require.Equal(t, 1, f.hub.ConnectionCount())

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

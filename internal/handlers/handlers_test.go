package handlers_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/api"
	"github.com/eldtechnologies/pulse/internal/auth"
	"github.com/eldtechnologies/pulse/internal/config"
	"github.com/eldtechnologies/pulse/internal/models"
	"github.com/eldtechnologies/pulse/internal/realtime"
)

type testServer struct {
	hub  *realtime.Hub
	srv  *httptest.Server
	priv ed25519.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := auth.NewTokenVerifier(base64.StdEncoding.EncodeToString(pub))
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		MaxMessageSize:      8 * 1024,
		MessageBurst:        100,
		MessageInterval:     time.Second,
		ConnectBurst:        100,
		ConnectInterval:     time.Second,
		TypingTTL:           time.Second,
		RoomGracePeriod:     time.Minute,
		LockMaxAge:          time.Minute,
		OfflineQueueLimit:   10,
		HistoryCacheSize:    50,
		HousekeeperInterval: time.Minute,
		ShutdownTimeout:     time.Second,
	}

	hub := realtime.NewHub(cfg, zerolog.Nop(), verifier, realtime.RolePolicy{}, nil, nil)
	router := api.NewRouter(zerolog.Nop(), hub, nil, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{hub: hub, srv: srv, priv: priv}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.SignToken(ts.priv, auth.TokenClaims{
		UserID:    userID,
		Role:      models.RoleMember,
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" {
		t.Fatalf("status = %q", body.Status)
	}
}

func TestListRoomsAndHistory(t *testing.T) {
	ts := newTestServer(t)

	c, err := ts.hub.Connect(nil, ts.token(t, "alice"), "127.0.0.1:50000")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.hub.Rooms().Join(c, models.RoomSpec{ID: "content:1"}); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"one", "two", "three"} {
		if _, err := ts.hub.Broker().Broadcast(c, "content:1", "chat", text); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(ts.srv.URL + "/rooms")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var rooms struct {
		Count int `json:"count"`
		Rooms []struct {
			ID               string `json:"id"`
			ParticipantCount int    `json:"participant_count"`
		} `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatal(err)
	}
	if rooms.Count != 1 || rooms.Rooms[0].ID != "content:1" || rooms.Rooms[0].ParticipantCount != 1 {
		t.Fatalf("rooms = %+v", rooms)
	}

	resp2, err := http.Get(ts.srv.URL + "/rooms/content:1/messages?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var hist struct {
		Messages []models.Message `json:"messages"`
		Count    int              `json:"count"`
		HasMore  bool             `json:"has_more"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&hist); err != nil {
		t.Fatal(err)
	}
	if hist.Count != 2 || !hist.HasMore {
		t.Fatalf("history = %+v", hist)
	}
	if hist.Messages[0].Content != "three" {
		t.Fatalf("not newest-first: %+v", hist.Messages[0])
	}
}

func TestHistoryRejectsBadParams(t *testing.T) {
	ts := newTestServer(t)

	for _, q := range []string{"limit=0", "limit=abc", "before=-1", "before=soon"} {
		resp, err := http.Get(ts.srv.URL + "/rooms/r/messages?" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestNotifyQueuesForOfflineUser(t *testing.T) {
	ts := newTestServer(t)

	body, _ := json.Marshal(models.Notification{UserID: "ghost", Kind: "mention"})
	resp, err := http.Post(ts.srv.URL+"/notify", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["state"] != models.NotificationQueued {
		t.Fatalf("state = %q, want queued", out["state"])
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?token=" + ts.token(t, "alice")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	join := map[string]any{"event": "join_room", "data": map[string]any{"id": "content:1"}}
	if err := conn.WriteJSON(join); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "room_joined" {
		t.Fatalf("event = %q, want room_joined", env.Event)
	}

	msg := map[string]any{"event": "message", "data": map[string]any{"room_id": "content:1", "content": "hello"}}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "message" {
		t.Fatalf("event = %q, want message", env.Event)
	}
	var m models.Message
	if err := json.Unmarshal(env.Data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Content != "hello" || m.SenderID != "alice" {
		t.Fatalf("message = %+v", m)
	}
}

package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/fanout"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/providers/mock"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/stream"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/vad"
)

func testDeps() stream.Deps {
	return stream.Deps{
		Transcriber: mock.NewTranscriber("hello"),
		Replier:     mock.NewReplier("hi there"),
		Synthesizer: mock.NewSynthesizer(nil),
		VAD:         vad.Config{},
	}
}

func newTestTransport(cfg Config) *Transport {
	return New(cfg, stream.NewRegistry(), fanout.NewHub(), testDeps())
}

func decodeQueued(t *testing.T, c *wsConn) map[string]any {
	t.Helper()
	select {
	case msg := <-c.sendCh:
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal queued message: %v", err)
		}
		return payload
	default:
		t.Fatalf("expected a queued message")
		return nil
	}
}

func TestSendMediaEnqueuesMediaThenMark(t *testing.T) {
	tr := newTestTransport(Config{})
	c := &wsConn{sendCh: make(chan []byte, 4)}
	tr.mu.Lock()
	tr.conns["MZ1"] = c
	tr.mu.Unlock()

	ulaw := []byte{0xFF, 0x7F, 0x00}
	if err := tr.SendMedia("MZ1", ulaw); err != nil {
		t.Fatalf("send media: %v", err)
	}

	media := decodeQueued(t, c)
	if media["event"] != "media" || media["streamSid"] != "MZ1" {
		t.Fatalf("unexpected media envelope: %v", media)
	}
	payload := media["media"].(map[string]any)["payload"].(string)
	if payload != base64.StdEncoding.EncodeToString(ulaw) {
		t.Fatalf("payload not base64 of input: %q", payload)
	}

	mark := decodeQueued(t, c)
	if mark["event"] != "mark" {
		t.Fatalf("expected mark after media, got %v", mark)
	}
	if name := mark["mark"].(map[string]any)["name"]; name != markAudioComplete {
		t.Fatalf("mark name = %v, want %q", name, markAudioComplete)
	}
}

func TestSendMediaWithoutConnectionFails(t *testing.T) {
	tr := newTestTransport(Config{})
	if err := tr.SendMedia("MZmissing", []byte{0xFF}); err == nil {
		t.Fatalf("expected error for unknown stream")
	}
}

func TestClearEnqueuesClearEvent(t *testing.T) {
	tr := newTestTransport(Config{})
	c := &wsConn{sendCh: make(chan []byte, 1)}
	tr.mu.Lock()
	tr.conns["MZ1"] = c
	tr.mu.Unlock()

	if err := tr.Clear("MZ1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	payload := decodeQueued(t, c)
	if payload["event"] != "clear" || payload["streamSid"] != "MZ1" {
		t.Fatalf("unexpected clear envelope: %v", payload)
	}
}

func TestHandleVoiceSignatureValidation(t *testing.T) {
	cfg := Config{AuthToken: "token", PublicURL: "https://example.com", VoicePath: "/voice"}
	tr := newTestTransport(cfg)

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+123")
	body := form.Encode()

	req := httptest.NewRequest(http.MethodPost, "https://example.com/voice", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	params := map[string]string{"CallSid": "CA123", "From": "+123"}
	sig := computeSignature(cfg.AuthToken, tr.requestURL(req), params)
	req.Header.Set("X-Twilio-Signature", sig)

	w := httptest.NewRecorder()
	tr.handleVoice(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `<Connect><Stream url="wss://example.com/ws"/></Connect>`) {
		t.Fatalf("unexpected TwiML: %s", w.Body.String())
	}

	reqInvalid := httptest.NewRequest(http.MethodPost, "https://example.com/voice", strings.NewReader(body))
	reqInvalid.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	reqInvalid.Header.Set("X-Twilio-Signature", "invalid")
	wInvalid := httptest.NewRecorder()
	tr.handleVoice(wInvalid, reqInvalid)
	if wInvalid.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", wInvalid.Code)
	}
}

func TestHandleStatusCallbackEndsStream(t *testing.T) {
	cfg := Config{AuthToken: "token", PublicURL: "https://example.com", StatusCallbackPath: "/status"}
	reg := stream.NewRegistry()
	tr := New(cfg, reg, fanout.NewHub(), testDeps())

	sess, err := reg.Create("MZ1", stream.Metadata{CallSID: "CA123"}, testDeps())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	tr.mu.Lock()
	tr.callStreams["CA123"] = "MZ1"
	tr.mu.Unlock()

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "completed")
	body := form.Encode()

	req := httptest.NewRequest(http.MethodPost, "https://example.com/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	params := map[string]string{"CallSid": "CA123", "CallStatus": "completed"}
	sig := computeSignature(cfg.AuthToken, tr.requestURL(req), params)
	req.Header.Set("X-Twilio-Signature", sig)

	w := httptest.NewRecorder()
	tr.handleStatusCallback(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected session removed, registry has %d", reg.Len())
	}
	if sess.State() != stream.StateClosed {
		t.Fatalf("session state = %s, want CLOSED", sess.State())
	}
}

func TestHandleSessionsListsRegistry(t *testing.T) {
	reg := stream.NewRegistry()
	tr := New(Config{}, reg, fanout.NewHub(), testDeps())
	if _, err := reg.Create("MZ1", stream.Metadata{CallSID: "CA1"}, testDeps()); err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	tr.handleSessions(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Sessions []stream.Summary `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].StreamID != "MZ1" {
		t.Fatalf("unexpected listing: %+v", resp.Sessions)
	}
}

func TestServeHTTPStreamLifecycle(t *testing.T) {
	reg := stream.NewRegistry()
	tr := New(Config{}, reg, fanout.NewHub(), testDeps())
	srv := httptest.NewServer(tr)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	writeEvent := func(ev any) {
		t.Helper()
		if err := conn.WriteJSON(ev); err != nil {
			t.Fatalf("write event: %v", err)
		}
	}

	writeEvent(Event{Event: "start", Start: &StartEvent{
		CallSID:   "CAlive",
		StreamSID: "MZlive",
		CustomParameters: map[string]string{
			"agent_id": "agent-7",
			"from":     "+4930123",
		},
	}})
	waitUntil(t, func() bool { return reg.Len() == 1 })

	sess, ok := reg.Get("MZlive")
	if !ok {
		t.Fatalf("session not registered")
	}
	if got := sess.Metadata().AgentID; got != "agent-7" {
		t.Fatalf("agent id = %q, want agent-7", got)
	}

	payload := base64.StdEncoding.EncodeToString(make([]byte, 160))
	writeEvent(Event{Event: "media", StreamSID: "MZlive", Media: &MediaEvent{Payload: payload}})
	writeEvent(Event{Event: "media", StreamSID: "MZlive", Media: &MediaEvent{Payload: "%%%not-base64%%%"}})
	writeEvent(Event{Event: "media", StreamSID: "MZlive", Media: &MediaEvent{Payload: payload}})

	writeEvent(Event{Event: "stop", StreamSID: "MZlive", Stop: &StopEvent{Reason: "completed"}})
	waitUntil(t, func() bool { return reg.Len() == 0 })
	waitUntil(t, func() bool { return sess.State() == stream.StateClosed })
}

func TestServeHTTPRejectsDuplicateStart(t *testing.T) {
	reg := stream.NewRegistry()
	tr := New(Config{}, reg, fanout.NewHub(), testDeps())
	srv := httptest.NewServer(tr)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	start := Event{Event: "start", Start: &StartEvent{CallSID: "CA1", StreamSID: "MZdup"}}
	if err := first.WriteJSON(start); err != nil {
		t.Fatalf("write start: %v", err)
	}
	waitUntil(t, func() bool { return reg.Len() == 1 })

	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()
	if err := second.WriteJSON(start); err != nil {
		t.Fatalf("write duplicate start: %v", err)
	}

	// The duplicate connection is dropped; its read loop ends with an error.
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Fatalf("expected duplicate connection to be closed")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.Len())
	}
}

// Teardown can race an in-flight SendMedia; enqueue must stay safe after
// close instead of panicking on the closed send channel.
func TestWsConnEnqueueCloseRace(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	c := &wsConn{conn: <-connCh, sendCh: make(chan []byte, 4)}
	go c.loop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = c.enqueue(map[string]any{"event": "media", "streamSid": "MZrace"})
			}
		}()
	}
	_ = c.close()
	wg.Wait()

	if err := c.enqueue(map[string]any{"event": "clear"}); err != nil {
		t.Fatalf("enqueue after close: %v", err)
	}
	_ = c.close()
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func computeSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	base := url
	for _, k := range keys {
		base += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

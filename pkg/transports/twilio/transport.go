package twilio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/fanout"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/logging"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/stream"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	DashboardPath      string   `mapstructure:"dashboard_path"`
	SessionsPath       string   `mapstructure:"sessions_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	VoiceGreeting      string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.DashboardPath == "" {
		c.DashboardPath = "/dashboard/ws"
	}
	if c.SessionsPath == "" {
		c.SessionsPath = "/sessions"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport terminates Twilio media stream websockets and feeds decoded
// audio into per-stream sessions. It also implements stream.Wire, carrying
// synthesized audio back on the same connection.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader

	registry *stream.Registry
	hub      *fanout.Hub
	deps     stream.Deps

	mu          sync.Mutex
	conns       map[string]*wsConn
	callStreams map[string]string

	baseCtx  context.Context
	draining atomic.Bool
	logger   *slog.Logger
}

// New wires a transport to the session registry and dashboard hub. The deps
// template is cloned per stream; Wire and Hub are filled in here.
func New(cfg Config, registry *stream.Registry, hub *fanout.Hub, deps stream.Deps) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		registry:    registry,
		hub:         hub,
		conns:       make(map[string]*wsConn),
		callStreams: make(map[string]string),
		baseCtx:     context.Background(),
		logger:      logging.NewComponentLogger(slog.Default(), "twilio_transport"),
	}
	deps.Wire = t
	deps.Hub = hub
	t.deps = deps
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.publicURL("https", t.cfg.VoicePath),
		"status_callback_url": t.publicURL("https", t.cfg.StatusCallbackPath),
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.baseCtx = ctx
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc(t.cfg.DashboardPath, t.handleDashboard)
	mux.HandleFunc(t.cfg.SessionsPath, t.handleSessions)
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*wsConn)
	t.callStreams = make(map[string]string)
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.close()
	}
	return nil
}

// ServeHTTP handles a Twilio media stream websocket. Each connection carries
// exactly one stream; the read loop runs until stop or disconnect.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var streamID string
	var sess *stream.Session
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.logger.Debug("frame_skipped",
				slog.String("reason_code", string(errorsx.ReasonTransportBadFrame)))
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil || evt.Start.StreamSID == "" {
				continue
			}
			sess = t.handleStart(conn, evt.Start)
			if sess == nil {
				return
			}
			streamID = evt.Start.StreamSID
		case "media":
			if evt.Media == nil || sess == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				t.logger.Debug("frame_skipped",
					slog.String("stream_sid", streamID),
					slog.String("reason_code", string(errorsx.ReasonTransportBadFrame)))
				continue
			}
			if err := sess.PushMedia(payload); err != nil {
				t.logger.Debug("media_dropped",
					slog.String("stream_sid", streamID),
					slog.String("error", err.Error()))
			}
		case "mark":
			if evt.Mark == nil || sess == nil {
				continue
			}
			if evt.Mark.Name == markAudioComplete {
				sess.ClearBuffer()
				_ = t.Clear(streamID)
			}
		case "stop":
			t.endStream(streamID, stopReason(evt.Stop))
			return
		}
	}
	if streamID != "" {
		t.endStream(streamID, "transport_closed")
	}
}

func (t *Transport) handleStart(conn *websocket.Conn, start *StartEvent) *stream.Session {
	meta := stream.Metadata{
		CallSID:    start.CallSID,
		AccountSID: start.AccountSID,
		AgentID:    start.CustomParameters["agent_id"],
		From:       start.CustomParameters["from"],
		To:         start.CustomParameters["to"],
	}
	deps := t.deps
	if lang := start.CustomParameters["language"]; lang != "" {
		deps.Agent.Language = lang
	}
	sess, err := t.registry.Create(start.StreamSID, meta, deps)
	if err != nil {
		t.logger.Warn("stream_start_rejected",
			slog.String("stream_sid", start.StreamSID),
			slog.String("reason_code", string(errorsx.Reason(err))))
		return nil
	}

	c := &wsConn{conn: conn, sendCh: make(chan []byte, 256)}
	t.mu.Lock()
	t.conns[start.StreamSID] = c
	if start.CallSID != "" {
		t.callStreams[start.CallSID] = start.StreamSID
	}
	t.mu.Unlock()
	go c.loop()

	if err := sess.Activate(t.baseCtx); err != nil {
		t.logger.Error("session_activate_failed",
			slog.String("stream_sid", start.StreamSID),
			slog.String("error", err.Error()))
		t.registry.Remove(start.StreamSID)
		return nil
	}
	t.logger.Info("stream_started",
		slog.String("stream_sid", start.StreamSID),
		slog.String("call_sid", start.CallSID),
		slog.String("trace_id", uuid.NewString()),
		slog.String("from", meta.From))
	return sess
}

func (t *Transport) endStream(streamID, reason string) {
	if streamID == "" {
		return
	}
	if sess, ok := t.registry.Get(streamID); ok {
		sess.Stop()
	}
	t.registry.Remove(streamID)
	t.mu.Lock()
	c := t.conns[streamID]
	delete(t.conns, streamID)
	for callSID, sid := range t.callStreams {
		if sid == streamID {
			delete(t.callStreams, callSID)
		}
	}
	t.mu.Unlock()
	if c != nil {
		_ = c.close()
	}
	t.logger.Info("stream_ended",
		slog.String("stream_sid", streamID),
		slog.String("reason", reason))
}

const markAudioComplete = "audio_complete"

// SendMedia pushes mu-law audio back to the caller, followed by a mark so
// the peer reports playback completion.
func (t *Transport) SendMedia(streamID string, ulaw []byte) error {
	c := t.conn(streamID)
	if c == nil {
		return errorsx.Wrap(errors.New("no connection for stream "+streamID), errorsx.ReasonTransportSend)
	}
	if err := c.enqueue(map[string]any{
		"event":     "media",
		"streamSid": streamID,
		"media": map[string]any{
			"payload": base64.StdEncoding.EncodeToString(ulaw),
		},
	}); err != nil {
		return err
	}
	return c.enqueue(map[string]any{
		"event":     "mark",
		"streamSid": streamID,
		"mark": map[string]any{
			"name": markAudioComplete,
		},
	})
}

// Clear tells the peer to drop any audio it has queued for playback.
func (t *Transport) Clear(streamID string) error {
	c := t.conn(streamID)
	if c == nil {
		return nil
	}
	return c.enqueue(map[string]any{
		"event":     "clear",
		"streamSid": streamID,
	})
}

// Dial places an outbound call using the Twilio REST API.
func (t *Transport) Dial(ctx context.Context, to, from, url string) (string, error) {
	return NewDialer(t.cfg).Dial(ctx, to, from, url)
}

func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("invalid_signature",
			slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	wsURL := "wss://" + t.requestHost(r) + t.cfg.WebsocketPath
	greeting := strings.TrimSpace(t.cfg.VoiceGreeting)
	var twiml string
	if greeting != "" {
		twiml = `<Response><Say>` + xmlEscape(greeting) + `</Say><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	} else {
		twiml = `<Response><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

// handleDashboard upgrades a dashboard client and subscribes it to the
// event hub until it disconnects.
func (t *Transport) handleDashboard(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	obs := fanout.NewWebsocketObserver(conn)
	t.hub.Register(obs)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				t.hub.Unregister(obs)
				return
			}
		}
	}()
}

func (t *Transport) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sessions": t.registry.ListActive(),
	})
}

func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("invalid_signature",
			slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	reason := normalizeCallEndReason(r.FormValue("CallStatus"))
	if callSID == "" || reason == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	t.mu.Lock()
	streamID := t.callStreams[callSID]
	t.mu.Unlock()
	if streamID != "" {
		t.endStream(streamID, reason)
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) conn(streamID string) *wsConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[streamID]
}

func (t *Transport) publicURL(scheme, path string) string {
	if t.cfg.PublicURL != "" {
		return scheme + "://" + normalizePublicURL(t.cfg.PublicURL) + path
	}
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func (t *Transport) requestHost(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return normalizePublicURL(t.cfg.PublicURL)
	}
	if r.Host != "" {
		return r.Host
	}
	return strings.TrimPrefix(t.cfg.ServerAddr, ":")
}

func (t *Transport) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || t.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return strings.TrimRight(t.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	return scheme + "://" + t.requestHost(r) + r.URL.RequestURI()
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

func stopReason(stop *StopEvent) string {
	if stop == nil {
		return "completed"
	}
	if r := normalizeCallEndReason(stop.Reason); r != "" {
		return r
	}
	return "completed"
}

func normalizeCallEndReason(raw string) string {
	r := strings.ToLower(strings.TrimSpace(raw))
	if r == "" {
		return ""
	}
	switch r {
	case "queued", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "call_ended", "call-ended", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled", "transport_closed":
		return "failed"
	default:
		return "unknown"
	}
}

// wsConn serializes all writes to one websocket through a send channel so
// the session loop never blocks on a slow peer. The mutex orders enqueue
// against close; without it a teardown racing SendMedia could send on the
// closed channel.
type wsConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	sendCh chan []byte
	closed bool
}

func (c *wsConn) enqueue(msg map[string]any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	select {
	case c.sendCh <- b:
	default:
	}
	return nil
}

func (c *wsConn) loop() {
	for msg := range c.sendCh {
		_ = c.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (c *wsConn) close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.sendCh)
	}
	c.mu.Unlock()
	return c.conn.Close()
}

// Package dodo is the client SDK for realtime multimodal sessions against
// the Gemini live endpoint: a websocket session client, a microphone capture
// pipeline, and a gapless playback streamer.
package dodo

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dodolabs/dodo-live/pkg/core/audio"
	"github.com/dodolabs/dodo-live/pkg/live/protocol"
)

const (
	defaultLiveHost = "generativelanguage.googleapis.com"
	liveWSPath      = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultConnectTimeout = 15 * time.Second
)

// LiveConfig is the per-connection session configuration. It is fixed for the
// lifetime of a connection; changing it means disconnecting and connecting
// again.
type LiveConfig struct {
	// Model is the live model id, e.g. "gemini-2.0-flash-live-001". A bare id
	// is normalized to the "models/" resource form on the wire.
	Model string

	SystemInstruction  string
	ResponseModalities []string // defaults to ["AUDIO"]
	Voice              string
	Temperature        *float64
	Tools              []protocol.Tool

	EnableAffectiveDialog bool

	// WaitForSetupComplete makes the client hold the setupcomplete event until
	// the server acknowledges the setup frame, instead of emitting it right
	// after the socket opens.
	WaitForSetupComplete bool
}

// RealtimeChunk is one media chunk for SendRealtimeInput: base64 payload data
// tagged with its MIME type. Audio chunks are 16 kHz mono PCM16; video frames
// are JPEG stills.
type RealtimeChunk struct {
	MIMEType string
	Data     string
}

// AudioChunk wraps base64 PCM16 capture data as a realtime chunk tagged with
// the capture sample rate, matching what the recorder's data events carry.
func AudioChunk(b64 string) RealtimeChunk {
	blob := protocol.AudioBlob(b64, audio.CaptureConfig().SampleRate)
	return RealtimeChunk{MIMEType: blob.MIMEType, Data: blob.Data}
}

// LiveClient is a single-session client for the bidirectional live endpoint.
// It owns the websocket, demultiplexes inbound frames into typed events, and
// serializes outbound writes. All methods are safe for concurrent use.
//
// Events are dispatched synchronously from the client's read loop, so
// handlers must not block.
type LiveClient struct {
	apiKey         string
	host           string
	endpoint       string
	dialer         *websocket.Dialer
	logger         *slog.Logger
	connectTimeout time.Duration

	emitter

	// connectMu serializes session lifecycle changes so concurrent Connect
	// and Disconnect calls cannot interleave teardown, dial, and install.
	connectMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	config    LiveConfig
	setupDone bool

	writeMu sync.Mutex
}

// NewLiveClient builds a client. The API key falls back to the GEMINI_API_KEY
// and GOOGLE_API_KEY environment variables when not set via WithAPIKey.
func NewLiveClient(opts ...ClientOption) *LiveClient {
	c := &LiveClient{
		host:           defaultLiveHost,
		dialer:         websocket.DefaultDialer,
		logger:         slog.Default(),
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	return c
}

// On registers a handler for one event type and returns its unsubscribe
// function.
func (c *LiveClient) On(t EventType, h Handler) func() {
	return c.on(t, h)
}

// Connected reports whether a session is currently open.
func (c *LiveClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Config returns the configuration of the current or most recent session.
func (c *LiveClient) Config() LiveConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Connect opens a websocket session and sends the setup frame. A previous
// session, if any, is fully torn down first. On success an open event is
// emitted, followed by setupcomplete (immediately, or on the server ack when
// cfg.WaitForSetupComplete is set).
func (c *LiveClient) Connect(ctx context.Context, cfg LiveConfig) error {
	if cfg.Model == "" {
		return NewInvalidRequestError("live: config.Model is required")
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	// Tear down any previous session before dialing the new one.
	c.teardown()

	endpoint, err := c.endpointURL()
	if err != nil {
		return NewInvalidRequestError(fmt.Sprintf("live: %v", err))
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		reason := err.Error()
		if resp != nil {
			reason = resp.Status
		}
		connErr := &ConnectionError{URL: redactKey(endpoint), Reason: reason, Err: err}
		c.emit(ErrorEvent{Err: connErr})
		return connErr
	}

	setup := buildSetup(cfg)
	if err := conn.WriteJSON(protocol.ClientMessage{Setup: setup}); err != nil {
		_ = conn.Close()
		connErr := &ConnectionError{URL: redactKey(endpoint), Reason: "setup write failed", Err: err}
		c.emit(ErrorEvent{Err: connErr})
		return connErr
	}

	c.mu.Lock()
	c.conn = conn
	c.config = cfg
	c.setupDone = false
	c.mu.Unlock()

	go c.readLoop(conn)

	c.emit(OpenEvent{})
	c.logf("client.open", "connected to %s", setup.Model)

	if !cfg.WaitForSetupComplete {
		c.markSetupComplete(conn)
	}
	return nil
}

// Disconnect closes the current session, if any. It reports whether a session
// was actually open; calling it on an idle client is a no-op returning false.
// Close errors on an already-dying socket are swallowed.
func (c *LiveClient) Disconnect() bool {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.teardown()
}

func (c *LiveClient) teardown() bool {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()

	c.logf("client.close", "disconnected")
	c.emit(CloseEvent{Reason: "client disconnect"})
	return true
}

// SendRealtimeInput streams media chunks into the session, one frame per
// chunk. Audio MIME types route to the audio field, image types to the video
// field; anything else is skipped.
func (c *LiveClient) SendRealtimeInput(chunks []RealtimeChunk) error {
	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	hasAudio, hasVideo := false, false
	for _, chunk := range chunks {
		var frame protocol.RealtimeInput
		switch {
		case strings.HasPrefix(chunk.MIMEType, protocol.AudioMIMEPrefix):
			hasAudio = true
			frame.Audio = &protocol.Blob{MIMEType: chunk.MIMEType, Data: chunk.Data}
		case strings.HasPrefix(chunk.MIMEType, protocol.ImageMIMEPrefix):
			hasVideo = true
			frame.Video = &protocol.Blob{MIMEType: chunk.MIMEType, Data: chunk.Data}
		default:
			c.logf("client.realtimeInput", "skipping chunk with mime type %q", chunk.MIMEType)
			continue
		}
		if err := c.writeJSON(conn, protocol.ClientMessage{RealtimeInput: &frame}); err != nil {
			return err
		}
	}

	c.logf("client.realtimeInput", "%s", realtimeModalities(hasAudio, hasVideo))
	return nil
}

// SendToolResponse answers one or more outstanding tool calls.
func (c *LiveClient) SendToolResponse(responses []protocol.FunctionResponse) error {
	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	if len(responses) == 0 {
		return nil
	}
	msg := protocol.ClientMessage{
		ToolResponse: &protocol.ToolResponse{FunctionResponses: responses},
	}
	if err := c.writeJSON(conn, msg); err != nil {
		return err
	}
	c.logf("client.toolResponse", "sent %d function response(s)", len(responses))
	return nil
}

// Send submits a client text turn. The text of every part is concatenated
// into a single user turn; turnComplete tells the model the client is done
// and a response is expected.
func (c *LiveClient) Send(parts []protocol.Part, turnComplete bool) error {
	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	var text strings.Builder
	for _, p := range parts {
		text.WriteString(p.Text)
	}
	msg := protocol.ClientMessage{
		ClientContent: &protocol.ClientContent{
			Turns: []protocol.Content{
				{Role: "user", Parts: []protocol.Part{protocol.TextPart(text.String())}},
			},
			TurnComplete: turnComplete,
		},
	}
	if err := c.writeJSON(conn, msg); err != nil {
		return err
	}
	c.logf("client.send", "sent client content (turnComplete=%t)", turnComplete)
	return nil
}

func (c *LiveClient) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *LiveClient) writeJSON(conn *websocket.Conn, msg protocol.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return NewAPIError(fmt.Sprintf("live: write failed: %v", err))
	}
	return nil
}

// markSetupComplete emits setupcomplete exactly once per connection.
func (c *LiveClient) markSetupComplete(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn || c.setupDone {
		c.mu.Unlock()
		return
	}
	c.setupDone = true
	c.mu.Unlock()

	c.logf("server.setupComplete", "setup complete")
	c.emit(SetupCompleteEvent{})
}

// readLoop drains one connection until it dies. The conn argument pins the
// loop to its own session: once Disconnect or a newer Connect replaces the
// handle, a stale loop exits without emitting anything.
func (c *LiveClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}

		msg, perr := protocol.ParseServerMessage(data)
		if perr != nil {
			c.logger.Warn("live: dropping malformed server frame", "error", perr)
			c.logf("server.malformed", "dropped malformed frame: %v", perr)
			continue
		}
		c.dispatch(conn, msg)
	}
}

func (c *LiveClient) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}

	reason := "unknown"
	if ce, ok := err.(*websocket.CloseError); ok {
		if ce.Text != "" {
			reason = ce.Text
		}
		if ce.Code != websocket.CloseNormalClosure && ce.Code != websocket.CloseGoingAway {
			c.emit(ErrorEvent{Err: NewAPIError(fmt.Sprintf("live: connection closed: %v", ce))})
		}
	} else {
		c.emit(ErrorEvent{Err: NewAPIError(fmt.Sprintf("live: read failed: %v", err))})
	}

	c.logf("server.close", "disconnected: %s", reason)
	c.emit(CloseEvent{Reason: reason})
}

// dispatch fans one parsed server message out to typed events.
func (c *LiveClient) dispatch(conn *websocket.Conn, msg *protocol.ServerMessage) {
	switch msg.Kind {
	case protocol.KindSetupComplete:
		c.markSetupComplete(conn)

	case protocol.KindToolCall:
		c.logf("server.toolCall", "%d function call(s)", len(msg.FunctionCalls))
		c.emit(ToolCallEvent{FunctionCalls: msg.FunctionCalls})

	case protocol.KindToolCallCancellation:
		c.logf("server.toolCallCancellation", "cancelling %d call(s)", len(msg.CancelledIDs))
		c.emit(ToolCallCancellationEvent{IDs: msg.CancelledIDs})

	case protocol.KindServerContent:
		c.dispatchContent(msg.Content)

	default:
		c.logf("server.unknown", "ignoring unrecognized frame")
	}
}

func (c *LiveClient) dispatchContent(sc *protocol.ServerContent) {
	// Interruption pre-empts everything else in the same frame: the consumer
	// needs to cut playback before it sees any trailing flags or parts.
	if sc.Interrupted {
		c.logf("server.interrupted", "turn interrupted")
		c.emit(InterruptedEvent{})
		return
	}

	if sc.TurnComplete {
		c.logf("server.turnComplete", "turn complete")
		c.emit(TurnCompleteEvent{})
	}

	var textParts []protocol.Part
	for _, part := range sc.ModelTurn {
		if part.IsAudio() {
			pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				c.logger.Warn("live: dropping undecodable audio part", "error", err)
				continue
			}
			c.emit(AudioEvent{Data: pcm})
			continue
		}
		if part.Text != "" {
			textParts = append(textParts, part)
		}
	}
	if len(textParts) > 0 {
		c.emit(ContentEvent{ModelTurn: protocol.Content{Role: "model", Parts: textParts}})
	}

	if sc.OutputTranscription != "" {
		c.emit(ContentEvent{ModelTurn: protocol.Content{
			Role:  "model",
			Parts: []protocol.Part{protocol.TextPart(sc.OutputTranscription)},
		}})
	}
}

func (c *LiveClient) logf(logType, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.logger.Debug("live: "+msg, "type", logType)
	c.emit(LogEvent{Date: time.Now(), Type: logType, Message: msg})
}

func (c *LiveClient) endpointURL() (string, error) {
	if c.endpoint != "" {
		u, err := url.Parse(c.endpoint)
		if err != nil {
			return "", fmt.Errorf("invalid endpoint %q: %w", c.endpoint, err)
		}
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		return u.String(), nil
	}
	if c.apiKey == "" {
		return "", fmt.Errorf("no API key configured")
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     c.host,
		Path:     liveWSPath,
		RawQuery: url.Values{"key": {c.apiKey}}.Encode(),
	}
	return u.String(), nil
}

func buildSetup(cfg LiveConfig) *protocol.Setup {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}
	gen := &protocol.GenerationConfig{
		ResponseModalities: modalities,
		Temperature:        cfg.Temperature,
	}
	if cfg.Voice != "" {
		gen.SpeechConfig = &protocol.SpeechConfig{
			VoiceConfig: &protocol.VoiceConfig{
				PrebuiltVoiceConfig: &protocol.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	setup := &protocol.Setup{
		Model:                 model,
		GenerationConfig:      gen,
		Tools:                 cfg.Tools,
		EnableAffectiveDialog: cfg.EnableAffectiveDialog,
		// Transcription of spoken output is always on so consumers get a text
		// mirror of every audio turn.
		OutputAudioTranscription: &struct{}{},
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &protocol.Content{
			Parts: []protocol.Part{protocol.TextPart(cfg.SystemInstruction)},
		}
	}
	return setup
}

func realtimeModalities(hasAudio, hasVideo bool) string {
	switch {
	case hasAudio && hasVideo:
		return "audio + video"
	case hasAudio:
		return "audio"
	case hasVideo:
		return "video"
	default:
		return "unknown"
	}
}

func redactKey(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

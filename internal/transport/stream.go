package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	"github.com/alexjbarnes/chat-sync/internal/events"
	"github.com/alexjbarnes/chat-sync/internal/retry"
)

const (
	pingAfter        = 10 * time.Second
	disconnectAfter  = 120 * time.Second
	heartbeatCheckAt = 20 * time.Second
	handshakeTimeout = 15 * time.Second

	reconnectMin = 5 * time.Second
	reconnectMax = 5 * time.Minute

	// wsReadLimit bounds a single event frame. Channel updates carrying
	// member lists are the largest.
	wsReadLimit = 4 * 1024 * 1024

	inboundChanSize = 64

	// maxBatch caps how many queued frames are decoded into one handler
	// call.
	maxBatch = 32

	jitterDivisor              = 2
	reconnectBackoffMultiplier = 2
)

// EventHandler receives decoded events in arrival order.
type EventHandler func(ctx context.Context, evs []events.Event)

//go:generate mockgen -source=stream.go -destination=mock_wsconn_test.go -package=transport -mock_names=wsConn=MockWSConn

// wsConn abstracts the WebSocket connection so EventStream can be tested
// without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

type dialFunc func(ctx context.Context) (wsConn, error)

type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// StreamConfig identifies the user the event stream connects as.
type StreamConfig struct {
	URL    string
	APIKey string
	UserID string
	Token  string
}

// EventStream keeps a WebSocket connection to the chat event feed open
// and delivers decoded events to a handler.
//
// A reader goroutine feeds inboundCh; Run owns the connection and is the
// only writer. Connection lifecycle events are synthesized here and go
// through the same handler as server events.
type EventStream struct {
	logger  *slog.Logger
	handler EventHandler
	dial    dialFunc

	conn      wsConn
	inboundCh chan inboundMsg

	lastMsgMu   sync.Mutex
	lastMessage time.Time

	mu           sync.RWMutex
	connected    bool
	connectionID string
}

// NewEventStream creates a stream for cfg. Nothing is dialed until Run.
func NewEventStream(cfg StreamConfig, handler EventHandler, logger *slog.Logger) *EventStream {
	s := &EventStream{
		logger:  logger,
		handler: handler,
	}
	s.dial = func(ctx context.Context) (wsConn, error) { return dialStream(ctx, cfg) }

	return s
}

func dialStream(ctx context.Context, cfg StreamConfig) (wsConn, error) {
	user, err := json.Marshal(map[string]any{
		"user_id":      cfg.UserID,
		"user_details": map[string]string{"id": cfg.UserID},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding connect payload: %w", err)
	}

	q := url.Values{}
	q.Set("api_key", cfg.APIKey)
	q.Set("authorization", cfg.Token)
	q.Set("stream-auth-type", "jwt")
	q.Set("json", string(user))

	conn, resp, err := websocket.Dial(ctx, cfg.URL+"?"+q.Encode(), &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: http.Header{"User-Agent": []string{"chat-sync"}},
	})
	if err != nil {
		// A rejected upgrade carries the HTTP status; everything else is a
		// network failure.
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &APIError{HTTPStatus: resp.StatusCode, Message: err.Error(), Endpoint: "connect"}
		}

		return nil, retry.Transient(fmt.Errorf("dialing websocket: %w", err))
	}

	return conn, nil
}

// Connected reports whether the stream currently has a live connection.
func (s *EventStream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.connected
}

// ConnectionID returns the id of the live connection, or "".
func (s *EventStream) ConnectionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.connectionID
}

func (s *EventStream) setConnected(connected bool, id string) {
	s.mu.Lock()
	s.connected = connected
	s.connectionID = id
	s.mu.Unlock()
}

func (s *EventStream) touchLastMessage() {
	s.lastMsgMu.Lock()
	s.lastMessage = time.Now()
	s.lastMsgMu.Unlock()
}

func (s *EventStream) sinceLastMessage() time.Duration {
	s.lastMsgMu.Lock()
	defer s.lastMsgMu.Unlock()

	return time.Since(s.lastMessage)
}

func (s *EventStream) emit(ctx context.Context, ev events.Event) {
	s.handler(ctx, []events.Event{ev})
}

// Run connects and reconnects until ctx is cancelled or the server
// rejects the credentials. Returns ctx.Err() on shutdown.
func (s *EventStream) Run(ctx context.Context) error {
	backoff := reconnectMin

	for {
		s.emit(ctx, events.NewConnecting(time.Now()))

		err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			s.emit(ctx, events.NewConnectionError(time.Now(), err))
		} else {
			backoff = reconnectMin
			err = s.serve(ctx)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if retry.IsPermanent(err) {
			return fmt.Errorf("permanent stream error: %w", err)
		}

		s.logger.Warn("event stream lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff) / jitterDivisor)) //nolint:gosec // G404: math/rand is fine for reconnect jitter, no security impact

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*reconnectBackoffMultiplier, reconnectMax)
	}
}

// connect dials and completes the handshake.
func (s *EventStream) connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	return s.handshake(ctx, conn)
}

// handshake waits for the first health.check, which carries the
// connection id. An error frame rejects the connection.
func (s *EventStream) handshake(ctx context.Context, conn wsConn) error {
	s.conn = conn
	s.conn.SetReadLimit(wsReadLimit)

	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	_, data, err := conn.Read(hsCtx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake read failed")
		return retry.Transient(fmt.Errorf("reading handshake: %w", err))
	}

	if errFrame := gjson.GetBytes(data, "error"); errFrame.Exists() {
		conn.Close(websocket.StatusNormalClosure, "connect rejected")

		apiErr := &APIError{Endpoint: "connect"}
		if err := json.Unmarshal([]byte(errFrame.Raw), apiErr); err != nil || apiErr.HTTPStatus == 0 {
			apiErr.HTTPStatus = http.StatusUnauthorized
		}

		return apiErr
	}

	if typ := gjson.GetBytes(data, "type").String(); typ != events.TypeHealthCheck {
		conn.Close(websocket.StatusProtocolError, "unexpected handshake")
		return retry.Transient(fmt.Errorf("unexpected handshake frame %q", typ))
	}

	id := gjson.GetBytes(data, "connection_id").String()
	s.setConnected(true, id)
	s.touchLastMessage()

	s.logger.Info("event stream connected", slog.String("connection_id", id))
	s.emit(ctx, events.NewConnected(time.Now(), id))

	return nil
}

// serve runs one connection until it drops and emits Disconnected.
func (s *EventStream) serve(ctx context.Context) error {
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	s.startReader(connCtx)

	err := s.eventLoop(ctx, connCtx)

	s.setConnected(false, "")
	s.conn.Close(websocket.StatusNormalClosure, "")

	reason := "closed"
	if err != nil {
		reason = err.Error()
	}

	s.emit(context.WithoutCancel(ctx), events.NewDisconnected(time.Now(), reason))

	return err
}

// startReader launches a goroutine that reads from the WebSocket and
// feeds inboundCh. The goroutine captures ch and conn by value so a
// reader from a previous connection cannot feed the new one.
func (s *EventStream) startReader(connCtx context.Context) {
	ch := make(chan inboundMsg, inboundChanSize)
	s.inboundCh = ch
	conn := s.conn

	go func() {
		for {
			typ, data, err := conn.Read(connCtx)
			select {
			case ch <- inboundMsg{typ: typ, data: data, err: err}:
			case <-connCtx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()
}

// eventLoop handles one connection: inbound frames are decoded and
// handed over in batches, and the heartbeat pings an idle connection.
func (s *EventStream) eventLoop(ctx context.Context, connCtx context.Context) error {
	ticker := time.NewTicker(heartbeatCheckAt)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.inboundCh:
			batch, err := s.collect(msg)
			if len(batch) > 0 {
				s.handler(ctx, batch)
			}

			if err != nil {
				return err
			}

		case <-ticker.C:
			elapsed := s.sinceLastMessage()

			if elapsed > disconnectAfter {
				s.logger.Warn("event stream timed out, closing")
				return retry.Transient(errors.New("heartbeat timeout"))
			}

			if elapsed > pingAfter {
				if err := s.ping(ctx); err != nil {
					return retry.Transient(fmt.Errorf("sending ping: %w", err))
				}
			}

		case <-ctx.Done():
			return ctx.Err()

		case <-connCtx.Done():
			return connCtx.Err()
		}
	}
}

// collect decodes msg plus whatever else is already queued, up to
// maxBatch frames. A read error ends the batch.
func (s *EventStream) collect(msg inboundMsg) ([]events.Event, error) {
	var batch []events.Event

	for n := 0; ; n++ {
		if msg.err != nil {
			return batch, retry.Transient(fmt.Errorf("reading event: %w", msg.err))
		}

		s.touchLastMessage()

		if ev := s.decode(msg); ev != nil {
			batch = append(batch, ev)
		}

		if n+1 >= maxBatch {
			return batch, nil
		}

		select {
		case msg = <-s.inboundCh:
		default:
			return batch, nil
		}
	}
}

func (s *EventStream) decode(msg inboundMsg) events.Event {
	if msg.typ == websocket.MessageBinary {
		s.logger.Debug("unexpected binary frame", slog.Int("bytes", len(msg.data)))
		return nil
	}

	ev, err := events.Decode(msg.data)
	if err != nil {
		s.logger.Warn("dropping undecodable event", slog.String("error", err.Error()))
		return nil
	}

	return ev
}

func (s *EventStream) ping(ctx context.Context) error {
	payload, err := json.Marshal([]map[string]string{{
		"type":      events.TypeHealthCheck,
		"client_id": s.ConnectionID(),
	}})
	if err != nil {
		return fmt.Errorf("marshalling ping: %w", err)
	}

	return s.conn.Write(ctx, websocket.MessageText, payload)
}

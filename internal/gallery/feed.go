package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	pingAfter        = 10 * time.Second
	disconnectAfter  = 120 * time.Second
	heartbeatCheckAt = 20 * time.Second

	reconnectMin = 5 * time.Second
	reconnectMax = 5 * time.Minute

	// jitterDivisor controls the range of random jitter added to
	// reconnect backoff: jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2

	// reconnectBackoffMultiplier is the exponential growth factor
	// applied to the reconnect backoff after each consecutive failure.
	reconnectBackoffMultiplier = 2

	// feedReadLimit caps a single feed frame. A live set of tens of
	// thousands of ids fits comfortably.
	feedReadLimit = 4 * 1024 * 1024

	inboundChanSize = 16
)

var errSubscriptionRejected = errors.New("feed subscription rejected")

//go:generate mockgen -destination=mock_wsconn_test.go -package=gallery -mock_names=wsConn=MockWSConn . wsConn

// wsConn abstracts the WebSocket connection so Feed can be tested
// without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// Observer receives every live upload set the feed emits.
type Observer interface {
	Observe(ctx context.Context, ids []string) Observation
}

type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

type subscribeMessage struct {
	Op    string `json:"op"`
	Root  string `json:"root"`
	Token string `json:"token,omitempty"`
}

// FeedConfig holds the parameters of a feed subscription.
type FeedConfig struct {
	URL      string
	RootID   string
	Token    string
	Observer Observer
}

// Feed keeps a WebSocket subscription to the live upload feed of one
// root open and hands each emission to an Observer.
//
// A reader goroutine feeds inboundCh. A single event loop (Listen)
// processes inbound frames and heartbeat ticks and owns all writes.
type Feed struct {
	conn   wsConn
	logger *slog.Logger

	url      string
	rootID   string
	token    string
	observer Observer

	dial func(ctx context.Context, url string) (wsConn, error)

	inboundCh chan inboundMsg

	lastMessage time.Time
	lastMsgMu   sync.Mutex

	connCancel context.CancelFunc

	connected   bool
	connectedMu sync.RWMutex
}

// NewFeed creates a Feed from the given config.
func NewFeed(cfg FeedConfig, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}

	f := &Feed{
		logger:   logger,
		url:      cfg.URL,
		rootID:   cfg.RootID,
		token:    cfg.Token,
		observer: cfg.Observer,
	}
	f.dial = f.dialWebsocket

	return f
}

func (f *Feed) dialWebsocket(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + f.token},
		},
	})
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Connect dials the feed and subscribes to the root.
func (f *Feed) Connect(ctx context.Context) error {
	if f.connCancel != nil {
		f.connCancel()
	}

	f.logger.Debug("connecting to upload feed", slog.String("url", f.url))

	conn, err := f.dial(ctx, f.url)
	if err != nil {
		return fmt.Errorf("dialing feed: %w", err)
	}

	return f.subscribe(ctx, conn)
}

// subscribe sends the subscription frame and waits for the server to
// accept it. The server answers with "subscribed" or "error".
func (f *Feed) subscribe(ctx context.Context, conn wsConn) error {
	f.conn = conn
	f.conn.SetReadLimit(feedReadLimit)
	f.touchLastMessage()

	if err := f.writeJSON(ctx, subscribeMessage{Op: "subscribe", Root: f.rootID, Token: f.token}); err != nil {
		f.conn.Close(websocket.StatusInternalError, "subscribe failed")
		return fmt.Errorf("sending subscribe: %w", err)
	}

	_, data, err := f.conn.Read(ctx)
	if err != nil {
		f.conn.Close(websocket.StatusInternalError, "subscribe read failed")
		return fmt.Errorf("reading subscribe response: %w", err)
	}

	switch op := gjson.GetBytes(data, "op").Str; op {
	case "subscribed":
	case "error":
		f.conn.Close(websocket.StatusNormalClosure, "subscription rejected")
		return fmt.Errorf("%w: %s", errSubscriptionRejected, gjson.GetBytes(data, "msg").Str)
	default:
		f.conn.Close(websocket.StatusProtocolError, "unexpected response")
		return fmt.Errorf("unexpected subscribe response %q", op)
	}

	f.setConnected(true)
	f.logger.Info("subscribed to upload feed", slog.String("root", f.rootID))

	return nil
}

// Run connects, retrying with backoff until the first subscription
// succeeds, then listens until ctx is cancelled or a permanent error
// occurs.
func (f *Feed) Run(ctx context.Context) error {
	backoff := reconnectMin

	for {
		err := f.Connect(ctx)
		if err == nil {
			return f.Listen(ctx)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if isPermanentError(err) {
			return fmt.Errorf("permanent error: %w", err)
		}

		f.logger.Warn("feed connect failed",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		if err := sleepBackoff(ctx, backoff); err != nil {
			return err
		}

		backoff = min(backoff*reconnectBackoffMultiplier, reconnectMax)
	}
}

func (f *Feed) startReader(connCtx context.Context) {
	ch := make(chan inboundMsg, inboundChanSize)
	f.inboundCh = ch
	conn := f.conn

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

// Listen is the event loop with automatic reconnection. Connect must
// have succeeded first. Returns only on permanent errors or context
// cancellation.
func (f *Feed) Listen(ctx context.Context) error {
	backoff := reconnectMin

	connCtx, connCancel := context.WithCancel(ctx)
	f.connCancel = connCancel
	f.startReader(connCtx)

	for {
		err := f.eventLoop(ctx, connCtx)
		if err == nil {
			return nil
		}

		f.setConnected(false)
		connCancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("feed connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		if err := sleepBackoff(ctx, backoff); err != nil {
			return err
		}

		if err := f.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if isPermanentError(err) {
				return fmt.Errorf("permanent reconnect error: %w", err)
			}

			f.logger.Warn("feed reconnect failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			backoff = min(backoff*reconnectBackoffMultiplier, reconnectMax)

			continue
		}

		connCtx, connCancel = context.WithCancel(ctx)
		f.connCancel = connCancel
		f.startReader(connCtx)

		backoff = reconnectMin

		f.logger.Info("feed reconnected")
	}
}

func (f *Feed) eventLoop(ctx context.Context, connCtx context.Context) error {
	ticker := time.NewTicker(heartbeatCheckAt)
	defer ticker.Stop()

	for {
		select {
		case msg := <-f.inboundCh:
			if msg.err != nil {
				return fmt.Errorf("reading message: %w", msg.err)
			}

			f.touchLastMessage()

			if msg.typ == websocket.MessageBinary {
				f.logger.Debug("unexpected binary frame on feed", slog.Int("bytes", len(msg.data)))
				continue
			}

			if err := f.handleInbound(ctx, msg.data); err != nil {
				return err
			}

		case <-ticker.C:
			f.lastMsgMu.Lock()
			elapsed := time.Since(f.lastMessage)
			f.lastMsgMu.Unlock()

			if elapsed > disconnectAfter {
				f.logger.Warn("feed timed out, closing")
				f.conn.Close(websocket.StatusGoingAway, "timeout")

				return fmt.Errorf("heartbeat timeout")
			}

			if elapsed > pingAfter {
				if err := f.writeJSON(ctx, map[string]string{"op": "ping"}); err != nil {
					return fmt.Errorf("sending ping: %w", err)
				}
			}

		case <-ctx.Done():
			return ctx.Err()

		case <-connCtx.Done():
			return connCtx.Err()
		}
	}
}

// handleInbound processes one text frame. Only an "error" frame ends
// the connection; unknown frames are skipped.
func (f *Feed) handleInbound(ctx context.Context, data []byte) error {
	if !gjson.ValidBytes(data) {
		f.logger.Debug("unparseable feed frame", slog.Int("bytes", len(data)))
		return nil
	}

	switch op := gjson.GetBytes(data, "op").Str; op {
	case "pong":
		return nil

	case "uploads":
		idsField := gjson.GetBytes(data, "ids")
		if idsField.Exists() && !idsField.IsArray() {
			f.logger.Warn("malformed uploads frame")
			return nil
		}

		ids := make([]string, 0, len(idsField.Array()))
		for _, v := range idsField.Array() {
			if id := v.String(); id != "" {
				ids = append(ids, id)
			}
		}

		f.observer.Observe(ctx, ids)

		return nil

	case "error":
		return fmt.Errorf("feed error: %s", gjson.GetBytes(data, "msg").Str)

	default:
		f.logger.Debug("unexpected feed frame", slog.String("op", op))
		return nil
	}
}

func (f *Feed) writeJSON(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling frame: %w", err)
	}

	return f.conn.Write(ctx, websocket.MessageText, data)
}

// Connected reports whether the subscription is live.
func (f *Feed) Connected() bool {
	f.connectedMu.RLock()
	v := f.connected
	f.connectedMu.RUnlock()

	return v
}

func (f *Feed) setConnected(v bool) {
	f.connectedMu.Lock()
	f.connected = v
	f.connectedMu.Unlock()
}

func (f *Feed) touchLastMessage() {
	f.lastMsgMu.Lock()
	f.lastMessage = time.Now()
	f.lastMsgMu.Unlock()
}

// Close shuts the subscription down.
func (f *Feed) Close() error {
	if f.connCancel != nil {
		f.connCancel()
	}

	f.setConnected(false)

	if f.conn != nil {
		return f.conn.Close(websocket.StatusNormalClosure, "bye")
	}

	return nil
}

// isPermanentError returns true for errors a reconnect cannot fix.
func isPermanentError(err error) bool {
	return errors.Is(err, errSubscriptionRejected)
}

func sleepBackoff(ctx context.Context, backoff time.Duration) error {
	jitter := time.Duration(rand.Int64N(int64(backoff) / jitterDivisor)) //nolint:gosec // G404: math/rand is fine for reconnect jitter, no security impact

	timer := time.NewTimer(backoff + jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

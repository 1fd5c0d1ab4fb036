// Package collabclient is the Go side of a collaboration connection: it binds
// to one project at a time, throttles cursor traffic and dispatches room
// events to callbacks.
package collabclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/collab"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/debounce"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/presence"
)

const (
	DefaultCursorInterval = 50 * time.Millisecond
	defaultWriteWait      = 5 * time.Second
	defaultReadLimit      = 1 << 20
)

var (
	// ErrNotConnected is returned by emitters while no connection is bound.
	ErrNotConnected = errors.New("collabclient: not connected")

	errMissingURL = errors.New("collabclient: url is required")
)

type Config struct {
	URL        string
	Header     http.Header
	HTTPClient *http.Client
	UserName   string
	UserColor  string
	// CursorInterval is the quiet period before a cursor position is sent.
	// Zero selects DefaultCursorInterval; a negative value disables throttling.
	CursorInterval time.Duration
	Logger         *zap.Logger

	OnPresence         func([]presence.State)
	OnCommentCreated   func(comments.SpatialComment)
	OnCommentUpdated   func(comments.SpatialComment)
	OnConnectionChange func(bool)
}

type binding struct {
	epoch     uint64
	projectID string
	userID    string
}

type pendingCursor struct {
	epoch uint64
	point presence.Point
}

// Client holds at most one live connection. Methods are safe for concurrent
// use. Callbacks run on the connection's reader goroutine and must not call
// back into the Client synchronously.
type Client struct {
	cfg    Config
	logger *zap.Logger
	cursor *debounce.Debouncer[pendingCursor]

	mu         sync.Mutex
	ws         *websocket.Conn
	current    binding
	epoch      uint64
	readerDone chan struct{}

	connected atomic.Bool
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errMissingURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.CursorInterval
	if interval == 0 {
		interval = DefaultCursorInterval
	}
	client := &Client{
		cfg:    cfg,
		logger: logger,
	}
	client.cursor = debounce.New(interval, client.flushCursor)
	return client, nil
}

// Bind points the client at a project. An unchanged binding on a live
// connection is a no-op. A changed or empty binding, or one whose connection
// has dropped, tears the old connection down first (leave, then close); a
// complete binding then dials and joins.
func (c *Client) Bind(ctx context.Context, projectID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws != nil && c.connected.Load() && c.current.projectID == projectID && c.current.userID == userID {
		return nil
	}
	c.teardownLocked()

	if projectID == "" || userID == "" {
		return nil
	}

	ws, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{
		HTTPHeader: c.cfg.Header,
		HTTPClient: c.cfg.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("collabclient: dial: %w", err)
	}
	ws.SetReadLimit(defaultReadLimit)

	c.epoch++
	c.ws = ws
	c.current = binding{epoch: c.epoch, projectID: projectID, userID: userID}
	c.readerDone = make(chan struct{})
	c.setConnected(true)
	go c.readLoop(ws, c.readerDone)

	if err := c.writeLocked(ctx, collab.EventJoin, collab.JoinPayload{
		ProjectID: projectID,
		UserID:    userID,
		UserName:  c.cfg.UserName,
		UserColor: c.cfg.UserColor,
	}); err != nil {
		c.teardownLocked()
		return fmt.Errorf("collabclient: join: %w", err)
	}
	c.logger.Debug("collab client joined",
		zap.String("project_id", projectID),
		zap.String("user_id", userID),
	)
	return nil
}

// Close leaves the current project and drops the connection.
func (c *Client) Close() error {
	return c.Bind(context.Background(), "", "")
}

// Connected reports transport connectivity, not room membership.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// EmitCursor queues a cursor position. Bursts inside one interval collapse to
// the last position.
func (c *Client) EmitCursor(x, y float64) {
	c.mu.Lock()
	epoch := c.current.epoch
	bound := c.ws != nil
	c.mu.Unlock()
	if !bound {
		return
	}
	c.cursor.Push(pendingCursor{epoch: epoch, point: presence.Point{X: x, Y: y}})
}

func (c *Client) EmitViewport(ctx context.Context, viewport presence.Viewport) error {
	return c.emit(ctx, func(b binding) (string, any) {
		return collab.EventViewportChange, collab.ViewportPayload{ProjectID: b.projectID, UserID: b.userID, Viewport: viewport}
	})
}

// EmitSelection publishes the selected object; nil clears the selection.
func (c *Client) EmitSelection(ctx context.Context, selectedObject *string) error {
	return c.emit(ctx, func(b binding) (string, any) {
		return collab.EventObjectSelect, collab.SelectPayload{ProjectID: b.projectID, UserID: b.userID, SelectedObject: selectedObject}
	})
}

func (c *Client) EmitCommentCreate(ctx context.Context, comment comments.SpatialComment) error {
	return c.emitComment(ctx, collab.EventCreateComment, comment)
}

func (c *Client) EmitCommentUpdate(ctx context.Context, comment comments.SpatialComment) error {
	return c.emitComment(ctx, collab.EventUpdateComment, comment)
}

func (c *Client) emitComment(ctx context.Context, event string, comment comments.SpatialComment) error {
	raw, err := json.Marshal(comment)
	if err != nil {
		return fmt.Errorf("collabclient: encode comment: %w", err)
	}
	return c.emit(ctx, func(b binding) (string, any) {
		return event, collab.CommentPayload{ProjectID: b.projectID, Comment: raw}
	})
}

func (c *Client) emit(ctx context.Context, build func(binding) (string, any)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	event, payload := build(c.current)
	return c.writeLocked(ctx, event, payload)
}

func (c *Client) flushCursor(value pendingCursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || c.current.epoch != value.epoch || !c.connected.Load() {
		return
	}
	err := c.writeLocked(context.Background(), collab.EventCursorMove, collab.CursorPayload{
		ProjectID: c.current.projectID,
		UserID:    c.current.userID,
		Cursor:    value.point,
	})
	if err != nil {
		c.logger.Debug("collab client cursor send failed", zap.Error(err))
	}
}

func (c *Client) writeLocked(ctx context.Context, event string, payload any) error {
	frame, err := collab.Encode(event, payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, defaultWriteWait)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, frame)
}

// teardownLocked cancels any pending cursor, announces the leave and closes
// the socket.
func (c *Client) teardownLocked() {
	c.cursor.Cancel()
	if c.ws == nil {
		return
	}
	if c.connected.Load() {
		err := c.writeLocked(context.Background(), collab.EventLeave, collab.LeavePayload{
			ProjectID: c.current.projectID,
			UserID:    c.current.userID,
		})
		if err != nil {
			c.logger.Debug("collab client leave failed", zap.Error(err))
		}
	}
	if err := c.ws.Close(websocket.StatusNormalClosure, ""); err != nil {
		c.ws.CloseNow()
	}
	<-c.readerDone
	c.ws = nil
	c.current = binding{}
	c.readerDone = nil
	c.setConnected(false)
}

func (c *Client) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer c.setConnected(false)

	for {
		_, data, err := ws.Read(context.Background())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.logger.Debug("collab client read ended", zap.Error(err))
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var envelope collab.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logger.Warn("collab client frame rejected", zap.Error(err))
		return
	}

	switch envelope.Type {
	case collab.EventPresenceUpdate:
		var states []presence.State
		if err := json.Unmarshal(envelope.Payload, &states); err != nil {
			c.logger.Warn("collab client presence rejected", zap.Error(err))
			return
		}
		if c.cfg.OnPresence != nil {
			c.cfg.OnPresence(states)
		}
	case collab.EventCommentCreated, collab.EventCommentUpdated:
		var comment comments.SpatialComment
		if err := json.Unmarshal(envelope.Payload, &comment); err != nil {
			c.logger.Warn("collab client comment rejected", zap.Error(err))
			return
		}
		handler := c.cfg.OnCommentCreated
		if envelope.Type == collab.EventCommentUpdated {
			handler = c.cfg.OnCommentUpdated
		}
		if handler != nil {
			handler(comment)
		}
	default:
		c.logger.Debug("collab client event ignored", zap.String("event", envelope.Type))
	}
}

func (c *Client) setConnected(connected bool) {
	if c.connected.Swap(connected) == connected {
		return
	}
	if c.cfg.OnConnectionChange != nil {
		c.cfg.OnConnectionChange(connected)
	}
}

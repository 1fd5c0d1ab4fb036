package collab

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPingPeriod = 30 * time.Second
	defaultReadLimit  = 64 * 1024
)

type ConnConfig struct {
	WriteWait  time.Duration
	PingPeriod time.Duration
	ReadLimit  int64
	Metrics    *Metrics
	Logger     *zap.Logger
}

// Conn pumps frames between one websocket and its Session.
type Conn struct {
	ws      *websocket.Conn
	session *Session
	cfg     ConnConfig
	logger  *zap.Logger
}

func NewConn(ws *websocket.Conn, session *Session, cfg ConnConfig) *Conn {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		ws:      ws,
		session: session,
		cfg:     cfg,
		logger:  logger.With(zap.String("connection_id", session.ID())),
	}
}

// Serve runs both pumps and blocks until the connection ends. Whatever ends
// it, the session is closed on return.
func (c *Conn) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		c.writePump(ctx)
	}()

	status, reason := c.readPump(ctx)
	c.session.Close("disconnect")
	cancel()
	<-writerDone
	c.ws.Close(status, reason)
}

func (c *Conn) readPump(ctx context.Context) (websocket.StatusCode, string) {
	c.ws.SetReadLimit(c.cfg.ReadLimit)

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					c.logger.Debug("collab read failed", zap.Error(err))
				}
			}
			return websocket.StatusNormalClosure, ""
		}

		event, err := Decode(data)
		if err != nil {
			c.cfg.Metrics.RecordMalformed()
			c.logger.Warn("collab frame rejected", zap.Error(err))
			continue
		}
		c.session.Handle(event)

		select {
		case <-c.session.Done():
			return websocket.StatusNormalClosure, "left"
		default:
		}
	}
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.session.Outbox():
			writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteWait)
			err := c.ws.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.logger.Debug("collab write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteWait)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug("collab ping failed", zap.Error(err))
				return
			}
		case <-c.session.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

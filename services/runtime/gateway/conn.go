// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultHeartbeat  = 30 * time.Second
	writeWait         = 10 * time.Second
	requestWait       = 15 * time.Second
	reconnectBase     = time.Second
	reconnectCap      = time.Minute
	defaultEventRate  = 20 // events per second per tenant
	defaultEventBurst = 40
)

var (
	// ErrClosed is returned by calls on a connection after Close.
	ErrClosed = errors.New("gateway connection closed")

	// ErrRequestTimeout is returned when the platform does not answer
	// an outbound request within the wait window.
	ErrRequestTimeout = errors.New("gateway request timed out")
)

// Conn is one tenant's live gateway connection: a dialer, a read loop
// with reconnect and backoff, a heartbeat, a per-tenant inbound rate
// limit, and correlated request/response for outbound actions.
// Safe for concurrent use.
type Conn struct {
	url     string
	token   string
	handler Handler
	logger  *slog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	ws      *websocket.Conn
	pending map[string]chan Frame
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial opens the connection and starts the read loop. The handler
// receives dispatch events until Close.
func Dial(ctx context.Context, url, token string, handler Handler, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		url:     url,
		token:   token,
		handler: handler,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(defaultEventRate), defaultEventBurst),
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(loopCtx)
	return c, nil
}

func (c *Conn) connect(ctx context.Context) error {
	header := http.Header{"Authorization": []string{"Bot " + c.token}}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial gateway %s: status %d: %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial gateway %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	return nil
}

// Close tears the connection down and stops the read loop. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := c.ws
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = ws.Close()
	}
	<-c.done
}

// Request sends an action frame and waits for the correlated response.
func (c *Conn) Request(ctx context.Context, reqType string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", reqType, err)
	}

	id := uuid.NewString()
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	ws := c.ws
	c.mu.Unlock()

	frame := Frame{Op: OpRequest, Type: reqType, ID: id, Data: data}
	if err := c.write(ws, frame); err != nil {
		c.dropPending(id)
		return nil, err
	}

	timer := time.NewTimer(requestWait)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp.Data, nil
	case <-timer.C:
		c.dropPending(id)
		return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, reqType)
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

func (c *Conn) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) write(ws *websocket.Conn, frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || ws == nil {
		return ErrClosed
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(frame)
}

// run is the connection supervisor: it reads until the socket fails,
// then reconnects with jittered exponential backoff.
func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	backoff := reconnectBase
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()

		if ws != nil {
			c.readLoop(ctx, ws)
			backoff = reconnectBase
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2+1)))
		c.logger.Warn("gateway disconnected, reconnecting",
			slog.Duration("backoff", sleep),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
		if backoff < reconnectCap {
			backoff *= 2
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Warn("gateway reconnect failed", slog.String("error", err.Error()))
			c.mu.Lock()
			c.ws = nil
			c.mu.Unlock()
		}
	}
}

// readLoop consumes frames from one socket generation until it fails.
func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	heartbeat := time.NewTicker(defaultHeartbeat)
	defer heartbeat.Stop()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if err := c.write(ws, Frame{Op: OpHeartbeat, Seq: time.Now().UnixMilli()}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Debug("gateway read failed", slog.String("error", err.Error()))
			}
			return
		}

		switch frame.Op {
		case OpHello:
			var hello Hello
			if err := json.Unmarshal(frame.Data, &hello); err == nil && hello.HeartbeatMs > 0 {
				heartbeat.Reset(time.Duration(hello.HeartbeatMs) * time.Millisecond)
			}

		case OpHeartbeat:
			// Server echo; nothing to do.

		case OpResponse:
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			if ok {
				delete(c.pending, frame.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- frame
			}

		case OpDispatch:
			if !c.limiter.Allow() {
				c.logger.Warn("gateway event dropped by flood guard", slog.String("type", frame.Type))
				continue
			}
			c.dispatch(frame)
		}
	}
}

func (c *Conn) dispatch(frame Frame) {
	switch frame.Type {
	case EventCommandInvoked:
		var ev CommandInvoked
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			c.logger.Warn("malformed command event", slog.String("error", err.Error()))
			return
		}
		c.handler.HandleCommand(&ev)

	case EventComponentInteraction:
		var ev ComponentInteraction
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			c.logger.Warn("malformed component event", slog.String("error", err.Error()))
			return
		}
		c.handler.HandleComponent(&ev)

	default:
		ev := PlatformEvent{Type: frame.Type}
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &ev); err != nil {
				c.logger.Warn("malformed platform event",
					slog.String("type", frame.Type),
					slog.String("error", err.Error()),
				)
				return
			}
		}
		c.handler.HandleEvent(&ev)
	}
}

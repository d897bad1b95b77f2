// Package transport provides the reliable message channel Parlance runs over:
// a websocket connection with asynchronous send, typed request/response
// correlation, a received-message callback, and disconnect notification.
//
// Control messages travel as JSON text frames (protocol.Envelope). An audio
// payload rides as a binary frame immediately following its client_audio or
// server_audio envelope.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"parlance/pkg/protocol"
)

var (
	// ErrClosed is returned by operations on a connection that has gone away.
	ErrClosed = errors.New("transport: connection closed")
	// ErrTimeout is returned when a correlated request saw no reply in time.
	// Callers must treat it exactly like an explicit failure.
	ErrTimeout = errors.New("transport: request timed out")
	// ErrPermissionDenied is returned when a correlated request was answered
	// with a permission_denied message instead of its typed result.
	ErrPermissionDenied = errors.New("transport: permission denied")
)

// Handler receives every inbound message that is not a correlated reply.
// audio is non-nil only for client_audio/server_audio envelopes. Handlers for
// one connection are invoked sequentially in receive order.
type Handler func(ctx context.Context, env protocol.Envelope, audio []byte)

// CloseHandler is invoked exactly once when the connection terminates.
type CloseHandler func(err error)

// Config carries the transport tunables.
type Config struct {
	// WriteTimeout bounds a single frame write. Zero means no bound.
	WriteTimeout time.Duration
	// SendBuffer is the outbound queue depth. Zero means 256.
	SendBuffer int
}

type outFrame struct {
	env   protocol.Envelope
	audio []byte
}

// Conn is a single bidirectional connection. It is safe for concurrent use.
type Conn struct {
	id     uuid.UUID
	ws     *websocket.Conn
	config Config
	send   chan outFrame

	onMessage Handler
	onClose   CloseHandler

	calls *pendingCalls

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	remoteAddr string
	log        *zap.Logger
}

// NewConn wraps an accepted or dialed websocket. Call Run to start the pumps.
func NewConn(parent context.Context, ws *websocket.Conn, remoteAddr string, cfg Config, log *zap.Logger) *Conn {
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 256
	}
	id := uuid.New()
	ctx, cancel := context.WithCancel(parent)
	return &Conn{
		id:         id,
		ws:         ws,
		config:     cfg,
		send:       make(chan outFrame, cfg.SendBuffer),
		calls:      newPendingCalls(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		remoteAddr: remoteAddr,
		log:        log.With(zap.String("conn_id", id.String())),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// RemoteAddr returns the peer address as reported at accept/dial time.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// SetHandler installs the inbound message callback. Must be called before Run.
func (c *Conn) SetHandler(h Handler) { c.onMessage = h }

// SetCloseHandler installs the disconnect callback. Must be called before Run.
func (c *Conn) SetCloseHandler(h CloseHandler) { c.onClose = h }

// Run starts the read and write pumps.
func (c *Conn) Run() {
	go c.readPump()
	go c.writePump()
}

// Done is closed when the connection has fully terminated.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues a control message without waiting for any reply.
func (c *Conn) Send(env protocol.Envelope) error {
	return c.enqueue(outFrame{env: env})
}

// SendAudio queues an audio envelope and its payload frame together so no
// other frame can interleave between them.
func (c *Conn) SendAudio(env protocol.Envelope, payload []byte) error {
	return c.enqueue(outFrame{env: env, audio: payload})
}

func (c *Conn) enqueue(f outFrame) error {
	select {
	case c.send <- f:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// Request sends a correlated request and waits for the raw reply envelope.
// A missing reply within timeout and a closed connection surface as errors;
// callers must treat both exactly like an explicit failure.
func (c *Conn) Request(ctx context.Context, t protocol.MessageType, body any, timeout time.Duration) (protocol.Envelope, error) {
	var zero protocol.Envelope

	env, err := protocol.NewEnvelope(t, body)
	if err != nil {
		return zero, err
	}
	seq, reply, err := c.calls.register()
	if err != nil {
		return zero, err
	}
	env.Seq = seq

	if err := c.Send(env); err != nil {
		c.calls.forget(seq)
		return zero, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-reply:
		if !ok {
			return zero, ErrClosed
		}
		return resp, nil
	case <-timer.C:
		c.calls.forget(seq)
		return zero, ErrTimeout
	case <-ctx.Done():
		c.calls.forget(seq)
		return zero, ctx.Err()
	case <-c.ctx.Done():
		return zero, ErrClosed
	}
}

// SendFor sends a request and decodes the correlated reply body into T. A
// permission_denied answer surfaces as ErrPermissionDenied.
func SendFor[T any](ctx context.Context, c *Conn, t protocol.MessageType, body any, timeout time.Duration) (T, error) {
	var zero T

	resp, err := c.Request(ctx, t, body, timeout)
	if err != nil {
		return zero, err
	}
	if resp.Type == protocol.MsgPermissionDenied {
		return zero, ErrPermissionDenied
	}
	var out T
	if err := resp.DecodeBody(&out); err != nil {
		return zero, err
	}
	return out, nil
}

func (c *Conn) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	// An audio envelope announces a binary frame; remember it until the
	// payload arrives (the frames are adjacent by construction).
	var audioEnv *protocol.Envelope

	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			readErr = err
			return
		}

		switch typ {
		case websocket.MessageText:
			// Correlated replies are settled here and never reach the
			// handler; everything else is dispatched in receive order.
			if ack := gjson.GetBytes(data, "ack"); ack.Exists() && ack.Uint() != 0 {
				var env protocol.Envelope
				if err := env.UnmarshalFrom(data); err != nil {
					c.log.Warn("dropping malformed reply frame", zap.Error(err))
					continue
				}
				if c.calls.resolve(env) {
					continue
				}
				c.dispatch(env, nil)
				continue
			}
			var env protocol.Envelope
			if err := env.UnmarshalFrom(data); err != nil {
				c.log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			if env.Type == protocol.MsgClientAudio || env.Type == protocol.MsgServerAudio {
				audioEnv = &env
				continue
			}
			c.dispatch(env, nil)

		case websocket.MessageBinary:
			if audioEnv == nil {
				c.log.Warn("dropping unexpected binary frame", zap.Int("bytes", len(data)))
				continue
			}
			env := *audioEnv
			audioEnv = nil
			c.dispatch(env, data)
		}
	}
}

func (c *Conn) dispatch(env protocol.Envelope, audio []byte) {
	if c.onMessage != nil {
		c.onMessage(c.ctx, env, audio)
	}
}

func (c *Conn) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case f := <-c.send:
			if err := c.writeFrame(f); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) writeFrame(f outFrame) error {
	ctx := c.ctx
	if c.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.WriteTimeout)
		defer cancel()
	}

	data, err := f.env.Marshal()
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return err
	}
	if f.audio != nil {
		return c.ws.Write(ctx, websocket.MessageBinary, f.audio)
	}
	return nil
}

// Close tears the connection down: pending requests fail, the close handler
// fires once, and Done unblocks. Safe to call multiple times.
func (c *Conn) Close(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.cancel()
		if err == nil {
			c.calls.failAll(ErrClosed)
		} else {
			c.calls.failAll(err)
		}
		c.ws.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(err)
		}
		close(c.done)
	})
}

// Package client is a Go client for the pairchat websocket protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/pairchat/internal/protocol"
	"go.uber.org/zap"
)

// ErrHandshake is returned by Dial when the server refuses the connection
// before upgrading, e.g. for a missing or expired token.
var ErrHandshake = errors.New("handshake rejected")

// Client is one authenticated websocket connection.
type Client struct {
	conn   *websocket.Conn
	events chan protocol.Envelope
	log    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Dial connects to url (ws:// or wss://) presenting token as a bearer
// credential. Inbound events are available from Events until the
// connection ends.
func Dial(ctx context.Context, url, token string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%w: %s", ErrHandshake, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		events: make(chan protocol.Envelope, 64),
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.readLoop(rctx)
	return c, nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			c.setErr(err)
			return
		}
		select {
		case c.events <- env:
		case <-ctx.Done():
			c.setErr(ctx.Err())
			return
		}
	}
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
		c.log.Debug("connection ended", zap.Error(err))
	}
}

// Events returns the inbound event stream. It is closed when the
// connection ends; Err then reports why.
func (c *Client) Events() <-chan protocol.Envelope {
	return c.events
}

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	return err
}

// Send writes one command frame.
func (c *Client) Send(ctx context.Context, event string, data any) error {
	b, err := protocol.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, b)
}

func (c *Client) OpenDialog(ctx context.Context, userID string) error {
	return c.Send(ctx, protocol.EventOpenDialog, protocol.OpenDialog{UserID: userID})
}

// SendText sends a text message. It satisfies outbox.TextSender.
func (c *Client) SendText(ctx context.Context, dialogID, text, correlationID string) error {
	return c.Send(ctx, protocol.EventSendMessage, protocol.SendMessage{
		DialogID:      dialogID,
		Type:          "text",
		Text:          text,
		CorrelationID: correlationID,
	})
}

func (c *Client) DeleteMessage(ctx context.Context, dialogID, messageID string) error {
	return c.Send(ctx, protocol.EventDeleteMessage, protocol.DeleteMessage{DialogID: dialogID, MessageID: messageID})
}

func (c *Client) TypingStart(ctx context.Context, dialogID string) error {
	return c.Send(ctx, protocol.EventTypingStart, protocol.TypingStart{DialogID: dialogID})
}

func (c *Client) TypingStop(ctx context.Context, dialogID string) error {
	return c.Send(ctx, protocol.EventTypingStop, protocol.TypingStop{DialogID: dialogID})
}

func (c *Client) MarkSeen(ctx context.Context, dialogID string) error {
	return c.Send(ctx, protocol.EventMessageSeen, protocol.MessageSeen{DialogID: dialogID})
}

func (c *Client) UpdateProfile(ctx context.Context, p protocol.UpdateProfile) error {
	return c.Send(ctx, protocol.EventUpdateProfile, p)
}

func (c *Client) GetDialogs(ctx context.Context) error {
	return c.Send(ctx, protocol.EventGetDialogs, nil)
}

func (c *Client) GetUsers(ctx context.Context) error {
	return c.Send(ctx, protocol.EventGetUsers, nil)
}

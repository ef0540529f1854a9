// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wneessen/livetrack/internal/logger"
)

const (
	sendQueueSize    = 16
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 10 * time.Second
)

var ErrInvalidURL = errors.New("presence URL must use the ws or wss scheme")

// Client is a Channel backed by a remote Hub. A websocket connection per subject is opened lazily and
// reestablished with a backoff when it drops. An unreachable hub only means that no messages arrive.
type Client struct {
	base   *url.URL
	bus    *Bus
	dialer *websocket.Dialer
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	links map[string]chan []byte
}

// NewClient returns a Client for the hub at baseURL, e.g. ws://tracker.example.com:8080.
func NewClient(baseURL string, log *logger.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse presence URL: %w", err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, ErrInvalidURL
	}
	bus, err := NewBus(log, DefaultBuffer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		base:   base,
		bus:    bus,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: log,
		ctx:    ctx,
		cancel: cancel,
		links:  make(map[string]chan []byte),
	}, nil
}

// Subscribe registers fn for messages of subjectID and makes sure a connection for the subject exists.
func (c *Client) Subscribe(subjectID string, fn Handler) Unsubscribe {
	unsub := c.bus.Subscribe(subjectID, fn)
	c.link(subjectID)
	return unsub
}

// Publish delivers msg to local subscribers and queues it for the hub. If the queue is full the message
// is dropped.
func (c *Client) Publish(msg Message) {
	if msg.SubjectID == "" {
		return
	}
	c.bus.Publish(msg)

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode presence message", logger.Err(err))
		return
	}
	send := c.link(msg.SubjectID)
	if send == nil {
		return
	}
	select {
	case send <- data:
	default:
		c.logger.Debug("presence send queue full, dropping message", logger.Subject(msg.SubjectID))
	}
}

func (c *Client) Forget(subjectID, origin string) {
	c.bus.Forget(subjectID, origin)
}

// Close shuts down all connections and waits for their goroutines.
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// link returns the send queue of the subject's connection, starting the connection if needed. It returns
// nil once the client is closed.
func (c *Client) link(subjectID string) chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return nil
	}
	if send, ok := c.links[subjectID]; ok {
		return send
	}
	send := make(chan []byte, sendQueueSize)
	c.links[subjectID] = send
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runLink(c.ctx, subjectID, send)
	}()
	return send
}

func (c *Client) endpoint(subjectID string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + url.PathEscape(subjectID)
	return u.String()
}

// runLink keeps a connection for subjectID open until ctx is done.
func (c *Client) runLink(ctx context.Context, subjectID string, send <-chan []byte) {
	backoff := initialBackoff
	endpoint := c.endpoint(subjectID)
	for {
		conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("failed to connect to presence hub", logger.Err(err),
				slog.String("endpoint", endpoint), slog.Duration("backoff", backoff))
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		c.logger.Debug("connected to presence hub", slog.String("endpoint", endpoint))
		c.serve(ctx, conn, subjectID, send)
		if !sleepOrDone(ctx, backoff) {
			return
		}
	}
}

// serve pumps messages between conn and the local bus until the connection drops or ctx is done.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, subjectID string, send <-chan []byte) {
	conn.SetReadLimit(maxMessageSize)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := Decode(data)
			if err != nil {
				c.logger.Debug("dropping invalid presence message", logger.Err(err))
				continue
			}
			if msg.SubjectID != subjectID {
				continue
			}
			c.bus.Publish(msg)
		}
	}()

	defer func() {
		if err := conn.Close(); err != nil {
			c.logger.Debug("failed to close presence connection", logger.Err(err))
		}
		<-readDone
	}()

	for {
		select {
		case <-ctx.Done():
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeTimeout))
			return
		case <-readDone:
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("failed to send presence message", logger.Err(err))
				return
			}
		}
	}
}

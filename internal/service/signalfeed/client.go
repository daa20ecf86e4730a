package signalfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"NarraTrade/internal/domain/models"
	drepo "NarraTrade/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Client implements a SignalStream backed by the classifier's WebSocket feed.
type Client struct {
	apiKey         string
	websocketURL   string
	assets         []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// New creates a new signal feed stream.
func New(apiKey, websocketURL string, assets []string, reconnectDelay, pingInterval time.Duration) drepo.SignalStream {
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		assets:         assets,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("signalfeed connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Printf("signalfeed: connected")
	return nil
}

// Subscribe subscribes to the configured assets.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("signalfeed not connected")
	}
	for _, a := range c.assets {
		msg := map[string]string{"type": "subscribe", "asset": a}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", a, err)
		}
		log.Printf("signalfeed: subscribed %s", a)
	}
	return nil
}

type feedMessage struct {
	Type string                     `json:"type"`
	Data []models.SignalItemRequest `json:"data"`
}

// Read streams scored signal items and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.SignalItem, <-chan error) {
	items := make(chan *models.SignalItem, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(items)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("signalfeed conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("signalfeed read: %w", err)
					return
				}
				var m feedMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-signal frames
					continue
				}
				if m.Type != "signal" {
					continue
				}
				for i := range m.Data {
					select {
					case items <- m.Data[i].ToSignalItem():
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return items, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }

package realtime

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the minimal surface the session bridge needs from a provider
// connection. The concrete Client implements it; tests substitute fakes.
type Conn interface {
	AppendAudio(b64 string) error
	Commit() error
	CreateResponse() error
	Events() <-chan ServerEvent
	Close() error
}

// Client is a websocket connection to the realtime speech provider.
type Client struct {
	url    string
	apiKey string

	conn   *websocket.Conn
	events chan ServerEvent
	sendCh chan ClientEvent
	stopCh chan struct{}

	mu        sync.Mutex
	connected bool
}

// Dial opens the provider connection and starts the read/write pumps.
func Dial(url, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("realtime: provider API key is empty")
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := map[string][]string{
		"Authorization": {"Bearer " + apiKey},
	}
	conn, resp, err := dialer.Dial(url, headers)
	if err != nil {
		if resp != nil {
			log.Printf("realtime: connect failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("realtime: connect: %w", err)
	}

	c := &Client{
		url:       url,
		apiKey:    apiKey,
		conn:      conn,
		events:    make(chan ServerEvent, 64),
		sendCh:    make(chan ClientEvent, 256),
		stopCh:    make(chan struct{}),
		connected: true,
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Events returns the channel of decoded provider events. It is closed when
// the connection ends.
func (c *Client) Events() <-chan ServerEvent { return c.events }

// AppendAudio queues one base64 PCM16 block upstream.
func (c *Client) AppendAudio(b64 string) error {
	return c.send(ClientEvent{Type: TypeAudioAppend, Audio: b64})
}

// Commit ends the current utterance's audio.
func (c *Client) Commit() error {
	return c.send(ClientEvent{Type: TypeAudioCommit})
}

// CreateResponse asks the model to produce a turn.
func (c *Client) CreateResponse() error {
	return c.send(ClientEvent{Type: TypeResponseCreate})
}

func (c *Client) send(evt ClientEvent) error {
	c.mu.Lock()
	open := c.connected
	c.mu.Unlock()
	if !open {
		return fmt.Errorf("realtime: connection closed")
	}
	select {
	case c.sendCh <- evt:
		return nil
	case <-c.stopCh:
		return fmt.Errorf("realtime: connection closed")
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	close(c.stopCh)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return nil
}

func (c *Client) readPump() {
	defer close(c.events)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				log.Printf("realtime: read error: %v", err)
			}
			return
		}
		evt, perr := parseServerEvent(data)
		if perr != nil {
			log.Printf("realtime: malformed provider event: %v", perr)
			continue
		}
		select {
		case c.events <- evt:
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.stopCh:
			return
		case evt := <-c.sendCh:
			if err := c.conn.WriteJSON(evt); err != nil {
				log.Printf("realtime: write error: %v", err)
				_ = c.Close()
				return
			}
		}
	}
}

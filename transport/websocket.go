package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/EelcoLos/iframe-dnd-demo-sub000/relay"
)

const sendBuffer = 256

// ErrSendBufferFull is returned when a peer is too slow to keep up. The
// peer is closed at the same time.
var ErrSendBufferFull = errors.New("transport: send buffer full")

// Deliverer accepts direct window messages; relay.Manager implements it.
type Deliverer interface {
	Deliver(origin string, payload []byte)
}

// WSPeer is a relay.Peer backed by a websocket connection. Writes go through
// a buffered channel drained by a single write pump.
type WSPeer struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWSPeer starts the write pump for conn.
func NewWSPeer(conn *websocket.Conn) *WSPeer {
	p := &WSPeer{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go p.writePump()
	return p
}

// Send implements relay.Peer.
func (p *WSPeer) Send(msg relay.Message) error {
	payload, err := relay.Encode(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return relay.ErrPeerClosed
	}
	select {
	case p.send <- payload:
		return nil
	default:
		p.closeLocked()
		return ErrSendBufferFull
	}
}

// IsOpen implements relay.Peer.
func (p *WSPeer) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Close stops the write pump, which sends a close frame and closes the
// connection.
func (p *WSPeer) Close() {
	p.mu.Lock()
	p.closeLocked()
	p.mu.Unlock()
	<-p.done
}

func (p *WSPeer) closeLocked() {
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

func (p *WSPeer) writePump() {
	defer func() {
		p.conn.Close()
		close(p.done)
	}()
	for message := range p.send {
		if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("Error writing message to peer: %v", err)
			p.mu.Lock()
			p.closeLocked()
			p.mu.Unlock()
			// Drain so pending senders never block.
			for range p.send {
			}
			return
		}
	}
	p.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ReadLoop feeds every text frame from conn to d, declaring origin as the
// sender's origin. It returns when the connection fails or closes.
func ReadLoop(conn *websocket.Conn, origin string, d Deliverer) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return nil
		}
		d.Deliver(origin, message)
	}
}

// Dial connects to a coordinator's websocket endpoint, sending origin in the
// Origin header. Failed attempts are retried with exponential backoff.
func Dial(ctx context.Context, rawURL, origin string, maxRetries uint64) (*websocket.Conn, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	var conn *websocket.Conn
	op := func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
		if err != nil {
			log.Printf("Dial %s failed: %v", rawURL, err)
			return err
		}
		conn = c
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return conn, nil
}

// OriginOf returns the browser-style origin (scheme://host) of a URL,
// mapping ws to http and wss to https.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	}
	if scheme == "" || u.Host == "" {
		return "", fmt.Errorf("no origin in %q", rawURL)
	}
	return scheme + "://" + u.Host, nil
}

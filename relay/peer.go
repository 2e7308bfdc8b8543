package relay

import (
	"errors"
	"sync/atomic"
)

// Peer is a handle on another window reachable without the bus. A
// coordinator holds one per registered child and a child holds one for its
// coordinator.
type Peer interface {
	Send(msg Message) error
	IsOpen() bool
}

// ErrPeerClosed is returned by Send on a closed peer.
var ErrPeerClosed = errors.New("relay: peer closed")

// LocalPeer delivers directly into another in-process Manager, declaring a
// fixed origin like a browser postMessage event would.
type LocalPeer struct {
	target *Manager
	origin string
	closed atomic.Bool
}

// NewLocalPeer returns a handle that delivers to target. Messages arrive
// with the given origin.
func NewLocalPeer(target *Manager, origin string) *LocalPeer {
	return &LocalPeer{target: target, origin: origin}
}

// Send implements Peer.
func (p *LocalPeer) Send(msg Message) error {
	if !p.IsOpen() {
		return ErrPeerClosed
	}
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	p.target.Deliver(p.origin, payload)
	return nil
}

// IsOpen implements Peer.
func (p *LocalPeer) IsOpen() bool {
	return p != nil && p.target != nil && !p.closed.Load()
}

// Close marks the peer closed, as if its window had gone away.
func (p *LocalPeer) Close() {
	p.closed.Store(true)
}

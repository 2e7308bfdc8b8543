// Package relay moves tagged messages between cooperating windows. A Manager
// publishes on a broadcast Bus while that works and otherwise relays through
// a coordinator window holding a Peer handle for every child.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingWindowID    = errors.New("relay: window id is required")
	ErrAlreadyInitialized = errors.New("relay: manager already initialized")
)

// Handler receives the data and source window of a dispatched message.
// Errors and panics are logged and do not affect other handlers.
type Handler func(data json.RawMessage, source WindowID) error

type role int

const (
	roleNone role = iota
	roleCoordinator
	roleChild
)

func (r role) String() string {
	switch r {
	case roleCoordinator:
		return "coordinator"
	case roleChild:
		return "child"
	default:
		return "uninitialized"
	}
}

type handlerEntry struct {
	fn Handler
}

// Manager is one window's view of the session.
type Manager struct {
	id           WindowID
	channelName  string
	origin       string
	debug        bool
	logger       *log.Logger
	probeTimeout time.Duration
	bus          Bus
	observer     func(Message)

	mu       sync.Mutex
	role     role
	opener   Peer
	channel  Channel
	useBus   bool
	peers    map[WindowID]Peer
	known    map[WindowID]struct{}
	handlers map[MessageType][]*handlerEntry
	left     bool
	closed   bool

	probeToken string
	echoOnce   sync.Once
	echo       chan struct{}
	probed     chan struct{}
}

// New creates a manager for the window id. When a bus is configured and
// can be joined, a connectivity self-test starts in the background; see
// Probed.
func New(id WindowID, opts ...Option) (*Manager, error) {
	if id == "" {
		return nil, ErrMissingWindowID
	}

	m := &Manager{
		id:           id,
		channelName:  DefaultChannel,
		probeTimeout: DefaultProbeTimeout,
		peers:        make(map[WindowID]Peer),
		known:        make(map[WindowID]struct{}),
		handlers:     make(map[MessageType][]*handlerEntry),
		probeToken:   uuid.NewString(),
		echo:         make(chan struct{}),
		probed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.New(os.Stderr, fmt.Sprintf("[relay:%s] ", id), log.LstdFlags)
	}

	if m.bus == nil {
		close(m.probed)
		return m, nil
	}

	ch, err := m.bus.Join(m.channelName, m.onBusMessage)
	if err != nil {
		m.debugf("broadcast channel unavailable, using relay only: %v", err)
		close(m.probed)
		return m, nil
	}
	m.channel = ch
	m.useBus = true

	go m.selfTest(ch)
	return m, nil
}

// ID returns the window id.
func (m *Manager) ID() WindowID { return m.id }

// Origin returns the origin accepted by Deliver.
func (m *Manager) Origin() string { return m.origin }

// Channel returns the bus channel name.
func (m *Manager) Channel() string { return m.channelName }

// Probed is closed once the bus self-test has finished, or immediately when
// there is no bus.
func (m *Manager) Probed() <-chan struct{} { return m.probed }

// BroadcastEnabled reports whether sends currently go over the bus.
func (m *Manager) BroadcastEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.useBus
}

// IsCoordinator reports whether the manager was initialized as the hub.
func (m *Manager) IsCoordinator() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role == roleCoordinator
}

// selfTest publishes a token on the bus and waits for it to come back.
// Some browsers partition broadcast channels per window without reporting
// an error, so an echo is the only reliable signal.
func (m *Manager) selfTest(ch Channel) {
	defer close(m.probed)

	msg, err := newMessage(TypeBroadcastTest, m.id, "", BroadcastTestPayload{Token: m.probeToken})
	if err != nil {
		m.disableBus("self-test encode failed: %v", err)
		return
	}
	payload, err := Encode(msg)
	if err != nil {
		m.disableBus("self-test encode failed: %v", err)
		return
	}
	if err := ch.Publish(payload); err != nil {
		m.disableBus("self-test publish failed: %v", err)
		return
	}

	timer := time.NewTimer(m.probeTimeout)
	defer timer.Stop()
	select {
	case <-m.echo:
		m.debugf("broadcast channel %q verified", m.channelName)
	case <-timer.C:
		m.disableBus("no self-test echo within %s, switching to relay mode", m.probeTimeout)
	}
}

func (m *Manager) disableBus(format string, args ...any) {
	m.mu.Lock()
	was := m.useBus
	m.useBus = false
	m.mu.Unlock()
	if was {
		m.logger.Printf("warning: "+format, args...)
	}
}

// InitializeAsCoordinator makes this window the relay hub and announces it.
func (m *Manager) InitializeAsCoordinator() error {
	m.mu.Lock()
	if m.role != roleNone {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.role = roleCoordinator
	m.mu.Unlock()

	m.debugf("initialized as coordinator")
	return m.Broadcast(TypeWindowJoined, nil)
}

// InitializeAsChild binds the window to its coordinator and announces it.
// A nil opener leaves the manager usable but unable to relay.
func (m *Manager) InitializeAsChild(opener Peer) error {
	m.mu.Lock()
	if m.role != roleNone {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.role = roleChild
	if opener != nil && opener.IsOpen() {
		m.opener = opener
	}
	hasOpener := m.opener != nil
	m.mu.Unlock()

	if !hasOpener {
		m.logger.Printf("error: no coordinator window found, cross-window messaging will not work")
		return m.Broadcast(TypeWindowJoined, nil)
	}

	m.debugf("initialized as child")
	msg, err := newMessage(TypeWindowJoined, m.id, "", nil)
	if err != nil {
		return err
	}
	if err := opener.Send(msg); err != nil {
		m.logger.Printf("announce to coordinator failed: %v", err)
	}
	return nil
}

// RegisterWindow gives the coordinator a direct handle on a child window.
// It must be called when the child is opened.
func (m *Manager) RegisterWindow(id WindowID, peer Peer) {
	if id == "" || peer == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.role != roleCoordinator {
		m.logger.Printf("warning: RegisterWindow(%s) ignored, window is %s", id, m.role)
		return
	}
	if m.closed {
		return
	}
	m.peers[id] = peer
	m.known[id] = struct{}{}
	m.debugf("registered window %s", id)
}

// UnregisterWindow drops a child handle, e.g. when its connection ends.
// With a non-nil peer the entry is only dropped if it still holds that
// peer, so a window that already reconnected keeps its new handle.
func (m *Manager) UnregisterWindow(id WindowID, peer Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.peers[id]
	if !ok || (peer != nil && current != peer) {
		return
	}
	delete(m.peers, id)
	delete(m.known, id)
}

// On registers h for messages of type t and returns a function removing it.
func (m *Manager) On(t MessageType, h Handler) func() {
	e := &handlerEntry{fn: h}
	m.mu.Lock()
	m.handlers[t] = append(m.handlers[t], e)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.removeHandler(t, e) })
	}
}

// Off removes every handler registered for t.
func (m *Manager) Off(t MessageType) {
	m.mu.Lock()
	delete(m.handlers, t)
	m.mu.Unlock()
}

func (m *Manager) removeHandler(t MessageType, e *handlerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs := m.handlers[t]
	for i, h := range hs {
		if h == e {
			m.handlers[t] = append(hs[:i:i], hs[i+1:]...)
			break
		}
	}
	if len(m.handlers[t]) == 0 {
		delete(m.handlers, t)
	}
}

// Broadcast sends a message to every other window. Only an encoding error
// of data is returned; delivery is best-effort.
func (m *Manager) Broadcast(t MessageType, data any) error {
	return m.send("", t, data)
}

// SendTo sends a message meant for one window. Other windows may still see
// it but will not dispatch it.
func (m *Manager) SendTo(target WindowID, t MessageType, data any) error {
	return m.send(target, t, data)
}

func (m *Manager) send(target WindowID, t MessageType, data any) error {
	msg, err := newMessage(t, m.id, target, data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	useBus, ch := m.useBus, m.channel
	m.mu.Unlock()

	if useBus && ch != nil {
		payload, err := Encode(msg)
		if err != nil {
			return err
		}
		err = ch.Publish(payload)
		if err == nil {
			m.debugf("published %s on %q", t, m.channelName)
			return nil
		}
		m.disableBus("broadcast publish failed, switching to relay mode: %v", err)
	}

	m.relayPath(msg)
	return nil
}

// relayPath delivers msg without the bus. A coordinator fans out to every
// registered child except the source, pruning handles that are gone. A child
// hands the message to its coordinator.
func (m *Manager) relayPath(msg Message) {
	m.mu.Lock()
	r := m.role
	opener := m.opener
	targets := make(map[WindowID]Peer, len(m.peers))
	if r == roleCoordinator {
		for id, p := range m.peers {
			if id != msg.Source {
				targets[id] = p
			}
		}
	}
	m.mu.Unlock()

	switch r {
	case roleCoordinator:
		for id, p := range targets {
			if p == nil || !p.IsOpen() {
				m.prune(id, "window closed")
				continue
			}
			if err := p.Send(msg); err != nil {
				m.prune(id, err.Error())
			}
		}
	case roleChild:
		if opener == nil || !opener.IsOpen() {
			m.debugf("no coordinator, dropped %s", msg.Type)
			return
		}
		if err := opener.Send(msg); err != nil {
			m.logger.Printf("send %s to coordinator failed: %v", msg.Type, err)
		}
	default:
		m.debugf("not initialized, dropped %s", msg.Type)
	}
}

func (m *Manager) prune(id WindowID, reason string) {
	m.mu.Lock()
	delete(m.peers, id)
	delete(m.known, id)
	m.mu.Unlock()
	m.logger.Printf("removed window %s: %s", id, reason)
}

func (m *Manager) onBusMessage(payload []byte) {
	msg, err := DecodeMessage(payload)
	if err != nil || !msg.Valid() {
		m.debugf("dropped malformed bus message")
		return
	}
	if msg.Source == m.id {
		if msg.Type == TypeBroadcastTest {
			m.observeEcho(msg)
		}
		return
	}
	m.observe(msg)
	if !msg.IsFor(m.id) {
		return
	}
	m.dispatch(msg)
}

func (m *Manager) observe(msg Message) {
	if m.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("observer panicked on %s: %v", msg.Type, r)
		}
	}()
	m.observer(msg)
}

func (m *Manager) observeEcho(msg Message) {
	p, err := Decode[BroadcastTestPayload](msg.Data)
	if err != nil || p.Token != m.probeToken {
		return
	}
	m.echoOnce.Do(func() { close(m.echo) })
}

// Deliver handles a direct window message. The origin must equal the
// manager's own origin exactly; it is the only check made on the sender.
func (m *Manager) Deliver(origin string, payload []byte) {
	if origin != m.origin {
		m.logger.Printf("warning: rejected message from origin %q", origin)
		return
	}
	msg, err := DecodeMessage(payload)
	if err != nil || !msg.Valid() {
		m.debugf("dropped malformed direct message")
		return
	}
	if msg.Source == m.id {
		return
	}

	m.mu.Lock()
	closed := m.closed
	coordinator := m.role == roleCoordinator
	m.mu.Unlock()
	if closed {
		return
	}
	m.observe(msg)

	// Forwarded copies carry relay=false so nobody forwards them again.
	if coordinator && msg.Relay {
		fwd := msg
		fwd.Relay = false
		m.relayPath(fwd)
	}
	if !msg.IsFor(m.id) {
		return
	}
	m.dispatch(msg)
}

func (m *Manager) dispatch(msg Message) {
	m.mu.Lock()
	switch msg.Type {
	case TypeWindowJoined:
		m.known[msg.Source] = struct{}{}
	case TypeWindowLeft:
		delete(m.known, msg.Source)
		delete(m.peers, msg.Source)
	}
	hs := append([]*handlerEntry(nil), m.handlers[msg.Type]...)
	m.mu.Unlock()

	m.debugf("dispatch %s from %s to %d handler(s)", msg.Type, msg.Source, len(hs))
	for _, h := range hs {
		m.invoke(h, msg)
	}
}

func (m *Manager) invoke(h *handlerEntry, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("handler for %s panicked: %v", msg.Type, r)
		}
	}()
	if err := h.fn(msg.Data, msg.Source); err != nil {
		m.logger.Printf("handler for %s failed: %v", msg.Type, err)
	}
}

// GetKnownWindows returns the ids of windows seen in this session, sorted.
func (m *Manager) GetKnownWindows() []WindowID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]WindowID, 0, len(m.known))
	for id := range m.known {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Leave announces that the window is going away and releases the bus
// channel. It is what a window does on unload.
func (m *Manager) Leave() {
	m.mu.Lock()
	if m.left || m.closed {
		m.mu.Unlock()
		return
	}
	m.left = true
	m.mu.Unlock()

	if err := m.Broadcast(TypeWindowLeft, nil); err != nil {
		m.logger.Printf("announce leave failed: %v", err)
	}

	m.mu.Lock()
	ch := m.channel
	m.channel = nil
	m.useBus = false
	m.mu.Unlock()
	if ch != nil {
		if err := ch.Close(); err != nil {
			m.debugf("release channel: %v", err)
		}
	}
}

// Close leaves the session if needed and clears all state. Later sends are
// no-ops.
func (m *Manager) Close() error {
	m.Leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.opener = nil
	m.peers = make(map[WindowID]Peer)
	m.known = make(map[WindowID]struct{})
	m.handlers = make(map[MessageType][]*handlerEntry)
	return nil
}

func (m *Manager) debugf(format string, args ...any) {
	if m.debug {
		m.logger.Printf("debug: "+format, args...)
	}
}

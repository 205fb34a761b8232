package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kmoran/surplight/internal/ble/protocol"
)

// LinkState describes the supervisor's view of the GATT connection.
type LinkState int

const (
	Disconnected LinkState = iota
	Connecting
	Connected
)

func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// LinkOptions configures supervision behavior.
type LinkOptions struct {
	ReconnectDelay time.Duration // wait before a scheduled reconnect attempt
	ConnectTimeout time.Duration // per-attempt connect timeout
}

// DefaultLinkOptions returns sensible defaults.
func DefaultLinkOptions() LinkOptions {
	return LinkOptions{
		ReconnectDelay: 5 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// Link supervises exactly one logical GATT connection to one peripheral
// address: it connects, subscribes to status notifications, detects
// disconnects from any source, and schedules delayed reconnects with at
// most one pending attempt at a time. Safe for concurrent use.
type Link struct {
	adapter Adapter
	address string
	opts    LinkOptions

	// Set before the first Connect; not guarded.
	onNotify       func(data []byte)
	onAvailability func(available bool)

	// mu guards the connection handle and state fields below.
	mu         sync.Mutex
	state      LinkState
	conn       Connection
	writeChar  Characteristic
	notifyChar Characteristic

	reconnectPending bool
	reconnectDone    chan struct{} // closed when the current reconnect task exits

	// connectMu serializes connect attempts so a foreground send and a
	// background reconnect never race two GATT connects.
	connectMu sync.Mutex

	stop         chan struct{}
	shuttingDown atomic.Bool
}

// NewLink creates a supervisor for the peripheral at address. The address
// is fixed for the link's lifetime.
func NewLink(adapter Adapter, address string, opts LinkOptions) *Link {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Link{
		adapter: adapter,
		address: address,
		opts:    opts,
		stop:    make(chan struct{}),
	}
}

// OnNotification registers the consumer for notify-characteristic data.
// Must be called before Connect.
func (l *Link) OnNotification(cb func(data []byte)) {
	l.onNotify = cb
}

// OnAvailabilityChanged registers the consumer for link up/down edges.
// Must be called before Connect.
func (l *Link) OnAvailabilityChanged(cb func(available bool)) {
	l.onAvailability = cb
}

// Available reports whether the link currently holds a live connection.
func (l *Link) Available() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == Connected
}

// State returns the current link state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connect makes a single connect attempt. On failure the link stays
// Disconnected and a delayed reconnect is scheduled; background callers
// ignore the returned error. Returns nil if already connected.
func (l *Link) Connect() error {
	l.connectMu.Lock()
	defer l.connectMu.Unlock()

	if l.shuttingDown.Load() {
		return ErrShuttingDown
	}

	l.mu.Lock()
	if l.state == Connected {
		l.mu.Unlock()
		return nil
	}
	l.state = Connecting
	l.mu.Unlock()

	if err := l.connect(); err != nil {
		l.mu.Lock()
		l.state = Disconnected
		l.mu.Unlock()
		l.scheduleReconnect()
		return err
	}
	return nil
}

// connect resolves a fresh device handle, discovers the write and notify
// characteristics, subscribes for status notifications and pokes the
// device so the controller learns real state without asking. Handles are
// attempt-scoped: nothing from a previous attempt is reused.
func (l *Link) connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.ConnectTimeout)
	defer cancel()

	conn, err := l.adapter.Connect(ctx, l.address)
	if err != nil {
		slog.Warn("[BLE] connect failed", "address", l.address, "error", err)
		return fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}

	writeChar, err := conn.DiscoverCharacteristic(ServiceUUID, WriteUUID)
	if err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}
	notifyChar, err := conn.DiscoverCharacteristic(ServiceUUID, NotifyUUID)
	if err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}

	if err := notifyChar.Subscribe(l.handleNotification); err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("%w: %w", ErrNotifySubscribe, err)
	}

	conn.OnDisconnect(func() {
		slog.Warn("[BLE] peripheral disconnected", "address", l.address)
		l.handleDisconnect()
	})

	l.mu.Lock()
	if l.shuttingDown.Load() {
		// Shutdown ran while this attempt was in flight; it already tore
		// down, so the fresh handle must not be committed.
		l.mu.Unlock()
		_ = notifyChar.Unsubscribe()
		_ = conn.Disconnect()
		return ErrShuttingDown
	}
	l.conn = conn
	l.writeChar = writeChar
	l.notifyChar = notifyChar
	l.state = Connected
	l.mu.Unlock()

	slog.Info("[BLE] connected", "address", l.address)

	// Solicit an immediate status report.
	if err := writeChar.Write(protocol.Poke()); err != nil {
		slog.Warn("[BLE] status poke failed", "address", l.address, "error", err)
	}

	l.notifyAvailability(true)
	return nil
}

// Send writes a command frame in confirmed mode. If the link is down it
// makes exactly one inline connect attempt before giving up; it never
// loops. A failed write is treated like a peripheral-initiated
// disconnect and the error is returned to the caller.
func (l *Link) Send(data []byte) error {
	if l.shuttingDown.Load() {
		return ErrShuttingDown
	}

	l.mu.Lock()
	writeChar := l.writeChar
	connected := l.state == Connected
	l.mu.Unlock()

	if !connected {
		slog.Warn("[BLE] link down, connecting before send", "address", l.address)
		if err := l.Connect(); err != nil {
			return err
		}
		l.mu.Lock()
		writeChar = l.writeChar
		l.mu.Unlock()
		if writeChar == nil {
			return ErrConnectFailure
		}
	}

	if err := writeChar.Write(data); err != nil {
		// Peripheral dropped mid-write.
		l.handleDisconnect()
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return nil
}

// Shutdown stops supervision: no further reconnects are scheduled, any
// pending reconnect task is cancelled and joined, then notifications are
// unsubscribed and the connection closed. Transport errors during
// teardown are swallowed. Safe to call more than once.
func (l *Link) Shutdown() {
	if !l.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	close(l.stop)

	l.mu.Lock()
	done := l.reconnectDone
	l.mu.Unlock()
	if done != nil {
		<-done
	}

	l.mu.Lock()
	conn := l.conn
	notifyChar := l.notifyChar
	wasConnected := l.state == Connected
	l.conn = nil
	l.writeChar = nil
	l.notifyChar = nil
	l.state = Disconnected
	l.mu.Unlock()

	if notifyChar != nil {
		_ = notifyChar.Unsubscribe()
	}
	if conn != nil {
		_ = conn.Disconnect()
	}
	if wasConnected {
		l.notifyAvailability(false)
	}
	slog.Info("[BLE] link shut down", "address", l.address)
}

// handleDisconnect is the single funnel for every disconnect source, the
// transport's callback and failed confirmed writes alike. The state
// guard makes it idempotent under near-simultaneous triggers.
func (l *Link) handleDisconnect() {
	l.mu.Lock()
	if l.state != Connected {
		l.mu.Unlock()
		return
	}
	l.state = Disconnected
	l.conn = nil
	l.writeChar = nil
	l.notifyChar = nil
	l.mu.Unlock()

	l.notifyAvailability(false)
	l.scheduleReconnect()
}

// scheduleReconnect queues one delayed connect attempt. Requesting
// another while one is pending is a silent no-op, as is any request
// after Shutdown.
func (l *Link) scheduleReconnect() {
	if l.shuttingDown.Load() {
		return
	}

	l.mu.Lock()
	if l.reconnectPending {
		l.mu.Unlock()
		return
	}
	l.reconnectPending = true
	done := make(chan struct{})
	l.reconnectDone = done
	l.mu.Unlock()

	slog.Debug("[BLE] reconnect scheduled", "address", l.address, "delay", l.opts.ReconnectDelay)

	go func() {
		defer close(done)

		select {
		case <-time.After(l.opts.ReconnectDelay):
		case <-l.stop:
			l.clearReconnectPending()
			return
		}

		l.clearReconnectPending()
		if l.shuttingDown.Load() {
			return
		}
		// A failed attempt schedules the next reconnect itself.
		if err := l.Connect(); err != nil {
			slog.Warn("[BLE] reconnect attempt failed", "address", l.address, "error", err)
		}
	}()
}

func (l *Link) clearReconnectPending() {
	l.mu.Lock()
	l.reconnectPending = false
	l.mu.Unlock()
}

// handleNotification forwards notify-characteristic data to the
// consumer. It must not block: decoding is pure and any reconnect it
// provokes goes through non-blocking scheduling.
func (l *Link) handleNotification(data []byte) {
	if l.onNotify != nil {
		l.onNotify(data)
	}
}

func (l *Link) notifyAvailability(available bool) {
	if l.onAvailability != nil {
		l.onAvailability(available)
	}
}

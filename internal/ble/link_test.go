package ble

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kmoran/surplight/internal/ble/protocol"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

func testLinkOptions() LinkOptions {
	return LinkOptions{
		ReconnectDelay: 20 * time.Millisecond,
		ConnectTimeout: time.Second,
	}
}

// availRecorder collects availability-changed events.
type availRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *availRecorder) record(available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, available)
}

func (r *availRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func (l *Link) reconnectIsPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reconnectPending
}

func TestLinkConnectSubscribesAndPokes(t *testing.T) {
	adapter := newMockAdapter(nil)
	avail := &availRecorder{}
	link := NewLink(adapter, testAddress, testLinkOptions())
	link.OnAvailabilityChanged(avail.record)

	if err := link.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if link.State() != Connected {
		t.Errorf("State() = %v, want %v", link.State(), Connected)
	}

	conn := adapter.latestConnection()
	if !conn.notifyChar.subscribed {
		t.Error("Connect() did not subscribe to the notify characteristic")
	}
	if conn.writeChar.writeCount() != 1 {
		t.Fatalf("writes after connect = %d, want 1 (status poke)", conn.writeChar.writeCount())
	}
	if got := conn.writeChar.writeAt(0); !bytes.Equal(got, protocol.Poke()) {
		t.Errorf("first write = % X, want poke % X", got, protocol.Poke())
	}
	if got := avail.snapshot(); len(got) != 1 || !got[0] {
		t.Errorf("availability events = %v, want [true]", got)
	}

	link.Shutdown()
}

func TestLinkConnectIsIdempotentWhileConnected(t *testing.T) {
	adapter := newMockAdapter(nil)
	link := NewLink(adapter, testAddress, testLinkOptions())

	if err := link.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := link.Connect(); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if adapter.connectCount() != 1 {
		t.Errorf("connect attempts = %d, want 1", adapter.connectCount())
	}

	link.Shutdown()
}

func TestLinkSendWhileConnected(t *testing.T) {
	adapter := newMockAdapter(nil)
	link := NewLink(adapter, testAddress, testLinkOptions())

	if err := link.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	frame := protocol.RGB(10, 20, 30)
	if err := link.Send(frame); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	conn := adapter.latestConnection()
	if conn.writeChar.writeCount() != 2 { // poke + frame
		t.Fatalf("writes = %d, want 2", conn.writeChar.writeCount())
	}
	if got := conn.writeChar.writeAt(1); !bytes.Equal(got, frame) {
		t.Errorf("second write = % X, want % X", got, frame)
	}

	link.Shutdown()
}

func TestLinkSendConnectsInline(t *testing.T) {
	adapter := newMockAdapter(nil)
	link := NewLink(adapter, testAddress, testLinkOptions())

	if err := link.Send(protocol.On()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if adapter.connectCount() != 1 {
		t.Errorf("connect attempts = %d, want 1", adapter.connectCount())
	}

	conn := adapter.latestConnection()
	if conn.writeChar.writeCount() != 2 { // poke + on frame
		t.Fatalf("writes = %d, want 2", conn.writeChar.writeCount())
	}
	if got := conn.writeChar.writeAt(1); !bytes.Equal(got, protocol.On()) {
		t.Errorf("second write = % X, want on frame", got)
	}

	link.Shutdown()
}

func TestLinkSendFailsFastWhenConnectFails(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.setConnectErr(errMockTransport)
	link := NewLink(adapter, testAddress, testLinkOptions())

	err := link.Send(protocol.On())
	if !errors.Is(err, ErrConnectFailure) {
		t.Fatalf("Send() error = %v, want ErrConnectFailure", err)
	}
	if adapter.connectCount() != 1 {
		t.Errorf("connect attempts = %d, want 1 (single inline attempt, no loop)", adapter.connectCount())
	}
	if !link.reconnectIsPending() {
		t.Error("failed inline connect should schedule a reconnect")
	}

	link.Shutdown()
}

func TestWriteFailureBehavesLikeDisconnect(t *testing.T) {
	adapter := newMockAdapter(nil)
	avail := &availRecorder{}
	link := NewLink(adapter, testAddress, testLinkOptions())
	link.OnAvailabilityChanged(avail.record)

	if err := link.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	adapter.latestConnection().writeChar.setWriteErr(errMockTransport)
	err := link.Send(protocol.Off())
	if !errors.Is(err, ErrWriteFailure) {
		t.Fatalf("Send() error = %v, want ErrWriteFailure", err)
	}
	if link.State() != Disconnected {
		t.Errorf("State() after failed write = %v, want %v", link.State(), Disconnected)
	}
	if !link.reconnectIsPending() {
		t.Error("failed write should schedule a reconnect")
	}
	if got := avail.snapshot(); len(got) != 2 || !got[0] || got[1] {
		t.Errorf("availability events = %v, want [true false]", got)
	}

	link.Shutdown()
}

func TestTransportDisconnectSchedulesOneReconnect(t *testing.T) {
	adapter := newMockAdapter(nil)
	link := NewLink(adapter, testAddress, testLinkOptions())

	if err := link.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn := adapter.latestConnection()
	// Write failure and transport callback arriving near-simultaneously
	// must funnel into a single reconnect task.
	conn.writeChar.setWriteErr(errMockTransport)
	_ = link.Send(protocol.On())
	conn.SimulateDisconnect()
	conn.SimulateDisconnect()

	if !link.reconnectIsPending() {
		t.Fatal("reconnect should be pending after disconnect")
	}

	// Let the single reconnect task run; it succeeds, so the chain stops.
	time.Sleep(100 * time.Millisecond)
	if adapter.connectCount() != 2 {
		t.Errorf("connect attempts = %d, want 2 (initial + one reconnect)", adapter.connectCount())
	}
	if link.State() != Connected {
		t.Errorf("State() = %v, want %v after reconnect", link.State(), Connected)
	}

	link.Shutdown()
}

func TestScheduleReconnectDedup(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.setConnectErr(errMockTransport)
	link := NewLink(adapter, testAddress, testLinkOptions())

	_ = link.Connect() // fails, schedules the first task
	if adapter.connectCount() != 1 {
		t.Fatalf("connect attempts = %d, want 1", adapter.connectCount())
	}

	// Extra requests while one is pending are silent no-ops.
	link.scheduleReconnect()
	link.scheduleReconnect()

	adapter.setConnectErr(nil)
	time.Sleep(100 * time.Millisecond)

	if adapter.connectCount() != 2 {
		t.Errorf("connect attempts = %d, want 2 (duplicate schedules collapsed)", adapter.connectCount())
	}
	if link.State() != Connected {
		t.Errorf("State() = %v, want %v", link.State(), Connected)
	}

	link.Shutdown()
}

func TestNotifySubscribeFailureRollsBack(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.subscribeErr = errMockTransport
	link := NewLink(adapter, testAddress, testLinkOptions())

	err := link.Connect()
	if !errors.Is(err, ErrNotifySubscribe) {
		t.Fatalf("Connect() error = %v, want ErrNotifySubscribe", err)
	}
	if link.State() != Disconnected {
		t.Errorf("State() = %v, want %v", link.State(), Disconnected)
	}
	if !adapter.latestConnection().disconnected {
		t.Error("connection should be closed when subscribe fails")
	}
	if !link.reconnectIsPending() {
		t.Error("subscribe failure should schedule a reconnect")
	}

	link.Shutdown()
}

func TestShutdownWhileDisconnectedIsIdempotent(t *testing.T) {
	adapter := newMockAdapter(nil)
	link := NewLink(adapter, testAddress, testLinkOptions())

	link.Shutdown()
	link.Shutdown()

	if link.State() != Disconnected {
		t.Errorf("State() = %v, want %v", link.State(), Disconnected)
	}
	if link.reconnectIsPending() {
		t.Error("shutdown must not schedule a reconnect")
	}
	if adapter.connectCount() != 0 {
		t.Errorf("connect attempts = %d, want 0", adapter.connectCount())
	}
}

func TestShutdownCancelsPendingReconnect(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.setConnectErr(errMockTransport)
	opts := testLinkOptions()
	opts.ReconnectDelay = time.Hour // must be cancelled, not waited out
	link := NewLink(adapter, testAddress, opts)

	_ = link.Connect() // fails, schedules reconnect

	start := time.Now()
	link.Shutdown()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Shutdown() took %v, should cancel the pending reconnect promptly", elapsed)
	}
	if adapter.connectCount() != 1 {
		t.Errorf("connect attempts = %d, want 1 (cancelled task must not connect)", adapter.connectCount())
	}
	if err := link.Connect(); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Connect() after Shutdown = %v, want ErrShuttingDown", err)
	}
	if err := link.Send(protocol.On()); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Send() after Shutdown = %v, want ErrShuttingDown", err)
	}
}

func TestShutdownDuringInFlightConnect(t *testing.T) {
	adapter := newMockAdapter(nil)
	started, gate := adapter.holdNextConnect()
	avail := &availRecorder{}
	link := NewLink(adapter, testAddress, testLinkOptions())
	link.OnAvailabilityChanged(avail.record)

	errCh := make(chan error, 1)
	go func() { errCh <- link.Connect() }()

	// Tear down while the attempt is blocked inside the adapter, then
	// let the attempt complete. The late handle must be discarded, not
	// committed.
	<-started
	link.Shutdown()
	close(gate)

	if err := <-errCh; !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Connect() racing Shutdown = %v, want ErrShuttingDown", err)
	}
	if link.State() != Disconnected {
		t.Errorf("State() = %v, want %v after Shutdown returned", link.State(), Disconnected)
	}
	conn := adapter.latestConnection()
	if !conn.disconnected {
		t.Error("late connection should be closed, not kept")
	}
	if conn.notifyChar.subscribed {
		t.Error("late connection should have notifications unsubscribed")
	}
	if got := avail.snapshot(); len(got) != 0 {
		t.Errorf("availability events = %v, want none after teardown", got)
	}
	if link.reconnectIsPending() {
		t.Error("no reconnect may be scheduled after Shutdown")
	}
}

func TestNotificationsAreForwarded(t *testing.T) {
	adapter := newMockAdapter(nil)
	link := NewLink(adapter, testAddress, testLinkOptions())

	var mu sync.Mutex
	var got [][]byte
	link.OnNotification(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, data)
	})

	if err := link.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	status := []byte{0xA1, 0x00, 0x66, 0x01}
	adapter.latestConnection().notifyChar.SimulateNotification(status)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || !bytes.Equal(got[0], status) {
		t.Errorf("forwarded notifications = %v, want one status frame", got)
	}

	link.Shutdown()
}

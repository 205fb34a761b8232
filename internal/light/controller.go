// Package light implements the device controller for one Surplife RGB
// light: the public intent surface and the cached on/off + color state.
package light

import (
	"log/slog"
	"sync"

	"github.com/kmoran/surplight/internal/ble/protocol"
)

// State is the last known device state. While the link is down the
// values are assumed rather than confirmed; see StatePublisher.
type State struct {
	On  bool
	RGB [3]uint8
}

// Link is the connection supervisor surface the controller depends on.
// *ble.Link satisfies it.
type Link interface {
	Send(data []byte) error
	Available() bool
	Shutdown()
}

// StatePublisher receives a state snapshot whenever the cached state or
// the link availability changes. available == false means the snapshot
// is assumed state the device has not confirmed.
type StatePublisher interface {
	PublishState(s State, available bool)
}

// Controller owns the device state cache and translates intents into
// command frames sent over the link. State is mutated optimistically
// when the link is down and authoritatively from status notifications;
// last write wins. Safe for concurrent use.
type Controller struct {
	link Link
	pub  StatePublisher

	mu    sync.Mutex
	state State
}

// NewController creates a controller. The initial color is white,
// matching the device's power-on behavior.
func NewController(link Link, pub StatePublisher) *Controller {
	return &Controller{
		link:  link,
		pub:   pub,
		state: State{RGB: [3]uint8{255, 255, 255}},
	}
}

// TurnOn powers the light on. With a color the set-color command is sent
// and the color cached; the device turns on as a side effect. Without
// one, the plain on command preserves the last color. The cached power
// state only updates optimistically when the link is down — when it is
// up, the eventual status notification is authoritative. The send error,
// if any, is returned so the caller can decide whether to retry.
func (c *Controller) TurnOn(rgb *[3]uint8) error {
	var frame []byte
	if rgb != nil {
		c.mu.Lock()
		c.state.RGB = *rgb
		c.mu.Unlock()
		frame = protocol.RGB(rgb[0], rgb[1], rgb[2])
	} else {
		frame = protocol.On()
	}

	err := c.link.Send(frame)
	if err != nil {
		slog.Warn("[LIGHT] turn on send failed", "error", err)
	}
	c.applyOptimistic(true)
	return err
}

// TurnOff powers the light off, with the same optimistic gating as
// TurnOn.
func (c *Controller) TurnOff() error {
	err := c.link.Send(protocol.Off())
	if err != nil {
		slog.Warn("[LIGHT] turn off send failed", "error", err)
	}
	c.applyOptimistic(false)
	return err
}

// applyOptimistic records an intended power state only when the link
// cannot confirm it. With the link up, the device's status notification
// settles the real state instead.
func (c *Controller) applyOptimistic(on bool) {
	if c.link.Available() {
		return
	}
	c.mu.Lock()
	c.state.On = on
	snap := c.state
	c.mu.Unlock()
	c.publish(snap, false)
}

// HandleNotification decodes a notify frame and reconciles the cache.
// The notify channel carries other frame kinds; unrecognized frames are
// dropped silently. Wire as the link's notification callback.
func (c *Controller) HandleNotification(data []byte) {
	status, ok := protocol.DecodeStatus(data)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.state.On == status.On {
		c.mu.Unlock()
		return
	}
	c.state.On = status.On
	snap := c.state
	c.mu.Unlock()

	slog.Info("[LIGHT] device reported state", "on", status.On)
	c.publish(snap, c.link.Available())
}

// HandleAvailability republishes the current snapshot so observers see
// the link-quality change. It does not alter the cached state. Wire as
// the link's availability callback.
func (c *Controller) HandleAvailability(available bool) {
	c.mu.Lock()
	snap := c.state
	c.mu.Unlock()
	c.publish(snap, available)
}

// CurrentState returns the cached device state.
func (c *Controller) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Available reports whether the link currently holds a live connection.
func (c *Controller) Available() bool {
	return c.link.Available()
}

// Close shuts the link down, waiting for any in-flight reconnect task
// to exit.
func (c *Controller) Close() {
	c.link.Shutdown()
}

func (c *Controller) publish(s State, available bool) {
	if c.pub != nil {
		c.pub.PublishState(s, available)
	}
}

// Package mqtt publishes light state to an MQTT broker and bridges
// inbound set commands back to the controller, using a Home Assistant
// friendly topic layout under a per-device prefix:
//
//	<prefix>/state         retained JSON state snapshot
//	<prefix>/availability  retained "online"/"offline", also the LWT
//	<prefix>/set           inbound command JSON
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kmoran/surplight/internal/light"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// quiesce for pending operations on Disconnect, in milliseconds.
	disconnectQuiesce = 1000
)

// Domain errors; check with errors.Is.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
)

// Options configures the broker connection and topic layout.
type Options struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // e.g. surplight/AA:BB:CC:DD:EE:FF
}

// Commands is the intent surface the set-topic bridge drives.
// *light.Controller satisfies it.
type Commands interface {
	TurnOn(rgb *[3]uint8) error
	TurnOff() error
}

// Publisher is a connected MQTT client implementing light.StatePublisher.
type Publisher struct {
	client pahomqtt.Client
	prefix string
}

// statePayload is the JSON document on the state topic. Assumed mirrors
// the link: with the link down the snapshot is unconfirmed.
type statePayload struct {
	State   string   `json:"state"` // "ON" or "OFF"
	RGB     [3]uint8 `json:"rgb"`
	Assumed bool     `json:"assumed"`
}

// commandPayload is the JSON accepted on the set topic.
type commandPayload struct {
	State string    `json:"state"`
	RGB   *[3]uint8 `json:"rgb,omitempty"`
}

// Connect dials the broker. The will marks the availability topic
// offline if the daemon dies without a clean shutdown.
func Connect(opts Options) (*Publisher, error) {
	o := pahomqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectTimeout(connectTimeout)
	o.SetWill(opts.TopicPrefix+"/availability", "offline", 1, true)

	p := &Publisher{
		client: pahomqtt.NewClient(o),
		prefix: opts.TopicPrefix,
	}

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	slog.Info("[MQTT] connected", "broker", opts.Broker, "prefix", opts.TopicPrefix)
	return p, nil
}

// PublishState implements light.StatePublisher: a retained state
// snapshot plus the availability marker. Publish failures are logged,
// not surfaced — state publishing is fire-and-forget for the controller.
func (p *Publisher) PublishState(s light.State, available bool) {
	payload, err := json.Marshal(encodeState(s, available))
	if err != nil {
		slog.Error("[MQTT] marshal state", "error", err)
		return
	}
	if err := p.publish(p.prefix+"/state", payload); err != nil {
		slog.Warn("[MQTT] publish state failed", "error", err)
	}

	avail := "offline"
	if available {
		avail = "online"
	}
	if err := p.publish(p.prefix+"/availability", []byte(avail)); err != nil {
		slog.Warn("[MQTT] publish availability failed", "error", err)
	}
}

// SubscribeCommands starts handling set-topic commands against cmds.
func (p *Publisher) SubscribeCommands(cmds Commands) error {
	topic := p.prefix + "/set"
	token := p.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handleCommand(cmds, msg.Payload())
	})
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%w: timeout subscribing to %s", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	slog.Info("[MQTT] command bridge ready", "topic", topic)
	return nil
}

// Close publishes a retained offline status and disconnects.
func (p *Publisher) Close() {
	if err := p.publish(p.prefix+"/availability", []byte("offline")); err != nil {
		slog.Warn("[MQTT] publish offline status failed", "error", err)
	}
	p.client.Disconnect(disconnectQuiesce)
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func encodeState(s light.State, available bool) statePayload {
	state := "OFF"
	if s.On {
		state = "ON"
	}
	return statePayload{State: state, RGB: s.RGB, Assumed: !available}
}

// handleCommand parses a set payload and invokes the matching intent.
// Send failures are logged only: the link supervisor restores
// connectivity in the background and a fresh command retries the intent.
func handleCommand(cmds Commands, payload []byte) {
	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Warn("[MQTT] bad command payload", "payload", string(payload), "error", err)
		return
	}

	switch strings.ToUpper(cmd.State) {
	case "ON":
		if err := cmds.TurnOn(cmd.RGB); err != nil {
			slog.Warn("[MQTT] turn on failed", "error", err)
		}
	case "OFF":
		if err := cmds.TurnOff(); err != nil {
			slog.Warn("[MQTT] turn off failed", "error", err)
		}
	case "":
		// A bare color change implies on; the RGB frame powers the
		// device up anyway.
		if cmd.RGB == nil {
			slog.Warn("[MQTT] command without state or color ignored", "payload", string(payload))
			return
		}
		if err := cmds.TurnOn(cmd.RGB); err != nil {
			slog.Warn("[MQTT] set color failed", "error", err)
		}
	default:
		slog.Warn("[MQTT] unknown command state", "state", cmd.State)
	}
}

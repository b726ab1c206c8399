package events

import (
	"encoding/json"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// DefaultTopic is the MQTT topic events are published to.
const DefaultTopic = "armctl/events"

// Client roles. Each process connecting to the broker uses its own role so
// that two of them sharing one config never collide on the client id.
const (
	RoleService = "service"
	RoleRelay   = "relay"
)

var hostname = os.Hostname

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string `json:"broker,omitempty"`
	Topic    string `json:"topic,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	return c
}

// ClientIDFor returns the client id role connects with. A configured
// ClientID is used as the prefix; otherwise the hostname is appended.
func (c MQTTConfig) ClientIDFor(role string) string {
	if c.ClientID != "" {
		return c.ClientID + "-" + role
	}
	id := "armctl-" + role
	if h, err := hostname(); err == nil && h != "" {
		id += "-" + h
	}
	return id
}

func clientOptions(cfg MQTTConfig, role string, onConnect ...func(mqtt.Client)) *mqtt.ClientOptions {
	cfg = cfg.withDefaults()
	l := logger.WithField("broker", cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientIDFor(role))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		l.Info("connected to MQTT broker")
		for _, f := range onConnect {
			f(c)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		l.Warnf("MQTT connection lost: %v", err)
	}
	return opts
}

// Dial connects to the configured broker as role, with automatic reconnects.
// onConnect runs after the first connect and after every reconnect.
func Dial(cfg MQTTConfig, role string, onConnect ...func(mqtt.Client)) (mqtt.Client, error) {
	cfg = cfg.withDefaults()
	client := mqtt.NewClient(clientOptions(cfg, role, onConnect...))
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// With connect retry enabled the client keeps trying in the background.
		logger.WithField("broker", cfg.Broker).Warn("MQTT broker not reachable yet, retrying in background")
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connect to %s", cfg.Broker)
	}
	return client, nil
}

// Publisher is the part of an MQTT client the bridge needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTBridge republishes bus events as JSON on an MQTT topic.
type MQTTBridge struct {
	pub   Publisher
	topic string
}

// NewMQTTBridge returns a bridge publishing to topic.
func NewMQTTBridge(pub Publisher, topic string) *MQTTBridge {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTBridge{pub: pub, topic: topic}
}

// Run forwards events until the channel closes.
func (m *MQTTBridge) Run(events <-chan Event) {
	for e := range events {
		if err := m.Publish(e); err != nil {
			logger.Warnf("failed to publish event: %v", err)
		}
	}
}

// Publish sends one event.
func (m *MQTTBridge) Publish(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	token := m.pub.Publish(m.topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.Errorf("publish to %s timed out", m.topic)
	}
	return errors.Wrapf(token.Error(), "publish to %s", m.topic)
}

// Subscriber is the part of an MQTT client Subscribe needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Subscription decodes events arriving on a topic into one channel. A clean
// session loses its subscriptions on disconnect; pass OnConnect to Dial so
// Subscribe runs again after every reconnect.
type Subscription struct {
	topic string
	ch    chan Event
}

// NewSubscription returns a subscription to topic buffering up to buffer
// events. Events arriving while the buffer is full are dropped.
func NewSubscription(topic string, buffer int) *Subscription {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Subscription{topic: topic, ch: make(chan Event, buffer)}
}

// Events returns the channel decoded events are delivered on.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Subscribe registers the message handler with sub.
func (s *Subscription) Subscribe(sub Subscriber) error {
	token := sub.Subscribe(s.topic, 0, s.handle)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "subscribe to %s", s.topic)
	}
	logger.WithField("topic", s.topic).Info("subscribed")
	return nil
}

// OnConnect subscribes on a freshly (re)connected client.
func (s *Subscription) OnConnect(c mqtt.Client) {
	if err := s.Subscribe(c); err != nil {
		logger.Warnf("events will not be relayed: %v", err)
	}
}

// handle decodes one message. Malformed messages are logged and skipped.
func (s *Subscription) handle(_ mqtt.Client, msg mqtt.Message) {
	var e Event
	if err := json.Unmarshal(msg.Payload(), &e); err != nil {
		logger.Warnf("bad event on %s: %v", msg.Topic(), err)
		return
	}
	select {
	case s.ch <- e:
	default:
	}
}

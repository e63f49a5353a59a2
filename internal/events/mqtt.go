package events

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const DefaultTopic = "homenavi/telldus/commands"

// CommandEvent is published once per command request, whatever the outcome.
type CommandEvent struct {
	Device  string    `json:"device"`
	Command string    `json:"command"`
	Repeat  int       `json:"repeat"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher is the surface the gateway needs. It enables testing without a live broker.
type Publisher interface {
	PublishCommand(ev CommandEvent) error
	Close()
}

type Nop struct{}

func (Nop) PublishCommand(CommandEvent) error { return nil }
func (Nop) Close()                            {}

type MQTTPublisher struct {
	cli   mqtt.Client
	topic string
}

// brokerAddress turns mqtt:// and tls:// style URLs into what paho expects.
func brokerAddress(brokerURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(brokerURL))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "mqtt", "tcp":
		return "tcp://" + u.Host, nil
	case "ssl", "tls", "mqtts":
		return "ssl://" + u.Host, nil
	case "ws", "wss":
		return u.Scheme + "://" + u.Host + u.Path, nil
	}
	return "", fmt.Errorf("unsupported mqtt scheme %q", u.Scheme)
}

// clientID is unique per connection; brokers drop an older session with the same id.
func clientID() string {
	return "home2telldus-" + uuid.NewString()
}

func Connect(brokerURL, topic string) (*MQTTPublisher, error) {
	server, err := brokerAddress(brokerURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(server)
	opts.SetClientID(clientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.OnConnect = func(_ mqtt.Client) { slog.Info("mqtt connected", "broker", server) }
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { slog.Warn("mqtt connection lost", "error", err) }
	if u, _ := url.Parse(brokerURL); u != nil && u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	if strings.HasPrefix(server, "ssl://") || strings.HasPrefix(server, "wss://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	cli := mqtt.NewClient(opts)
	tok := cli.Connect()
	if ok := tok.WaitTimeout(15 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect to %s timed out", server)
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &MQTTPublisher{cli: cli, topic: topic}, nil
}

func (p *MQTTPublisher) PublishCommand(ev CommandEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	t := p.cli.Publish(p.topic, 0, false, payload)
	if !t.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish to %s timed out", p.topic)
	}
	return t.Error()
}

func (p *MQTTPublisher) Close() {
	p.cli.Disconnect(250)
}

package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mbocsi/gorover/proto"
)

// Publisher is the part of an MQTT client the mirror needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// MQTTMirror republishes device events to <prefix>/events/<name>.
type MQTTMirror struct {
	client Publisher
	prefix string
}

func NewMQTTMirror(client Publisher, prefix string) *MQTTMirror {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = "gorover"
	}
	return &MQTTMirror{client: client, prefix: prefix}
}

// DialMQTT connects to brokerURL (mqtt://, tcp://, ssl:// or ws://).
func DialMQTT(brokerURL, clientID string) (mqtt.Client, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}

	server := u.Host
	switch u.Scheme {
	case "mqtt", "tcp":
		server = "tcp://" + server
	case "ssl", "tls":
		server = "ssl://" + server
	case "ws", "wss":
		server = u.Scheme + "://" + server + u.Path
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	if clientID == "" {
		clientID = "gorover-relay-" + time.Now().Format("150405.000")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(server)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(c mqtt.Client) { slog.Info("MQTT connected", "broker", server) }
	opts.OnConnectionLost = func(c mqtt.Client, err error) { slog.Error("MQTT connection lost", "error", err) }
	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}

	cli := mqtt.NewClient(opts)
	if t := cli.Connect(); t.WaitTimeout(10*time.Second) && t.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", server, t.Error())
	}
	return cli, nil
}

func (m *MQTTMirror) Topic(event string) string {
	return m.prefix + "/events/" + event
}

func (m *MQTTMirror) Publish(ev proto.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// Telemetry is high rate and only the latest value matters.
	retained := ev.Event == proto.EventTelemetry
	t := m.client.Publish(m.Topic(ev.Event), 0, retained, payload)
	if t.WaitTimeout(2*time.Second) && t.Error() != nil {
		return t.Error()
	}
	return nil
}

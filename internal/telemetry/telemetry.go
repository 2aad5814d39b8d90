// Package telemetry publishes routing events over MQTT so fleet dashboards
// can watch routers without polling their stats APIs.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/clawinfra/clawrouter/internal/router"
)

// Publisher emits routing events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishDecision(d *router.RoutingDecision)
	PublishFeedback(decisionID string, obs router.Observed)
	Close()
}

// Client is the subset of the paho client the publisher needs.
// This allows us to mock MQTT calls in tests.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// Options configures the MQTT publisher.
type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// MQTTPublisher publishes decision and feedback events as JSON on
// <prefix>/decisions and <prefix>/feedback.
type MQTTPublisher struct {
	client Client
	prefix string
	logger *slog.Logger
}

type feedbackEvent struct {
	DecisionID   string  `json:"decisionId"`
	Success      bool    `json:"success"`
	LatencyMs    int64   `json:"latencyMs"`
	Cost         float64 `json:"cost"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	ErrorKind    string  `json:"errorKind,omitempty"`
	Timestamp    int64   `json:"timestamp"`
}

// New connects to the broker and returns a publisher.
func New(o Options, logger *slog.Logger) (*MQTTPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = fmt.Sprintf("clawrouter-%d", time.Now().Unix())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("telemetry: connection timeout to %s", o.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to mqtt: %w", err)
	}

	return NewWithClient(client, o.TopicPrefix, logger), nil
}

// NewWithClient wraps an already-connected client (used in tests).
func NewWithClient(client Client, prefix string, logger *slog.Logger) *MQTTPublisher {
	if prefix == "" {
		prefix = "clawrouter"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "telemetry"),
	}
}

// PublishDecision emits one routing decision. Publish failures are logged,
// never propagated: telemetry must not affect the request path.
func (p *MQTTPublisher) PublishDecision(d *router.RoutingDecision) {
	p.publish(p.prefix+"/decisions", d)
}

// PublishFeedback emits one observed outcome.
func (p *MQTTPublisher) PublishFeedback(decisionID string, obs router.Observed) {
	kind := obs.ErrorKind
	if kind == "" && obs.Err != nil {
		kind = router.ClassifyError(obs.Err)
	}
	p.publish(p.prefix+"/feedback", feedbackEvent{
		DecisionID:   decisionID,
		Success:      obs.Success,
		LatencyMs:    obs.LatencyMs,
		Cost:         obs.Cost,
		InputTokens:  obs.InputTokens,
		OutputTokens: obs.OutputTokens,
		ErrorKind:    kind,
		Timestamp:    time.Now().Unix(),
	})
}

func (p *MQTTPublisher) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("marshal telemetry event", "topic", topic, "error", err)
		return
	}
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			p.logger.Warn("publish telemetry event", "topic", topic, "error", token.Error())
		}
	}()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// Disabled is a no-op publisher used when telemetry is not configured.
type Disabled struct{}

func (Disabled) PublishDecision(*router.RoutingDecision) {}
func (Disabled) PublishFeedback(string, router.Observed) {}
func (Disabled) Close()                                  {}

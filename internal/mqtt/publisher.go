// Package mqtt publishes channel state and thing status as retained JSON
// messages.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"opensmartcity-bridge/internal/config"
	"opensmartcity-bridge/internal/modules/weather/types"
)

const (
	qos            = 1
	publishTimeout = 5 * time.Second
)

var ErrNotConnected = errors.New("mqtt client not connected")

// ChannelMessage is the payload on <prefix>/<thing>/<channel>.
type ChannelMessage struct {
	Thing     string    `json:"thing"`
	Channel   string    `json:"channel"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusMessage is the payload on <prefix>/<thing>/status.
type StatusMessage struct {
	Thing     string    `json:"thing"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// publishClient is the subset of mqtt.Client the publisher uses.
type publishClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher is a types.StateSink backed by an MQTT broker.
type Publisher struct {
	client  publishClient
	prefix  string
	thingID string
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPublisher(cfg config.Config, logger *slog.Logger) *Publisher {
	p := &Publisher{
		prefix:  cfg.MQTTTopicPrefix,
		thingID: cfg.ThingID,
		logger:  logger.With("component", "mqtt"),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// The broker marks the thing offline if the bridge disappears.
	will, err := p.encodeStatus(types.StatusOffline, types.DetailCommunicationError)
	if err == nil {
		opts.SetBinaryWill(p.StatusTopic(), will, qos, true)
	}

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect waits for the first connection while honouring ctx and Disconnect.
// Reconnects after that are handled by paho.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return errors.New("mqtt publisher stopped")
	default:
	}
	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return errors.New("mqtt publisher stopped")
		default:
		}
	}
}

func (p *Publisher) ChannelTopic(channel types.ChannelID) string {
	return p.prefix + "/" + p.thingID + "/" + string(channel)
}

func (p *Publisher) StatusTopic() string {
	return p.prefix + "/" + p.thingID + "/status"
}

func (p *Publisher) Publish(ctx context.Context, channel types.ChannelID, state types.State) error {
	data, err := json.Marshal(ChannelMessage{
		Thing:     p.thingID,
		Channel:   string(channel),
		Value:     state.Float(),
		Unit:      string(types.UnitOf(state)),
		State:     state.String(),
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal channel state: %w", err)
	}
	return p.publish(ctx, p.ChannelTopic(channel), data)
}

func (p *Publisher) PublishStatus(ctx context.Context, status types.Status, detail types.StatusDetail) error {
	data, err := p.encodeStatus(status, detail)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.StatusTopic(), data)
}

func (p *Publisher) encodeStatus(status types.Status, detail types.StatusDetail) ([]byte, error) {
	data, err := json.Marshal(StatusMessage{
		Thing:     p.thingID,
		Status:    string(status),
		Detail:    string(detail),
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	return data, nil
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte) error {
	if !p.IsConnected() {
		return fmt.Errorf("publish %s: %w", topic, ErrNotConnected)
	}

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	token := p.client.Publish(topic, qos, true, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect is idempotent; Connect fails afterwards.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	p.logger.Info("mqtt disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

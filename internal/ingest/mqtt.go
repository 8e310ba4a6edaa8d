package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/ugsoil/soilserver/internal/config"
	"github.com/ugsoil/soilserver/internal/model"
	"github.com/ugsoil/soilserver/internal/store"
)

// MQTTBridge subscribes to a broker topic and inserts published readings
// through the same validation path as the HTTP ingest endpoint.
type MQTTBridge struct {
	client mqtt.Client
	store  store.Store
	log    *slog.Logger
	cfg    config.MQTTConfig
}

// NewMQTTBridge builds the bridge without connecting.
func NewMQTTBridge(cfg config.MQTTConfig, st store.Store, log *slog.Logger) *MQTTBridge {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	})

	return &MQTTBridge{
		client: mqtt.NewClient(opts),
		store:  st,
		log:    log,
		cfg:    cfg,
	}
}

// Start connects to the broker and subscribes to the configured topic.
func (b *MQTTBridge) Start() error {
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "connect to mqtt broker")
	}
	b.log.Info("connected to mqtt broker", "broker", b.cfg.BrokerURL())

	token := b.client.Subscribe(b.cfg.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		b.handleMessage(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "subscribe to %s", b.cfg.Topic)
	}
	b.log.Info("subscribed", "topic", b.cfg.Topic)
	return nil
}

// Stop disconnects from the broker.
func (b *MQTTBridge) Stop() {
	b.client.Disconnect(250)
}

func (b *MQTTBridge) handleMessage(payload []byte) {
	var r model.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		b.log.Warn("drop unparseable mqtt payload", "error", err)
		return
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	r.ReceivedAt = time.Now().UTC()
	if err := r.Validate(); err != nil {
		b.log.Warn("drop invalid mqtt reading", "sensorId", r.SensorID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.InsertReading(ctx, &r); err != nil {
		b.log.Error("insert mqtt reading", "sensorId", r.SensorID, "error", err)
		return
	}
	b.log.Debug("stored mqtt reading", "sensorId", r.SensorID, "timestamp", r.Timestamp)
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"pepperfield.dev/soilguard/internal/engine"
	"pepperfield.dev/soilguard/pkg/wire"
)

// mqttPersistTimeout bounds the database write triggered by an MQTT
// message, since paho handlers carry no caller context.
const mqttPersistTimeout = 10 * time.Second

// MQTTConfig holds the configuration for the MQTT reading source.
type MQTTConfig struct {
	Logger      *slog.Logger
	Engine      *engine.Engine
	BrokerURL   string
	ClientID    string
	Topic       string
	Username    string
	Password    string
	KeepAlive   time.Duration
	PingTimeout time.Duration
}

// MQTTSource subscribes to a broker topic carrying soil readings and
// feeds them through the same pipeline as the queue consumer. Sensor
// gateways in the field tend to speak MQTT natively, so the engine
// service accepts both transports.
type MQTTSource struct {
	client mqtt.Client
	logger *slog.Logger
	engine *engine.Engine
	topic  string
}

// NewMQTTSource creates an MQTT reading source.
func NewMQTTSource(cfg *MQTTConfig) (*MQTTSource, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if cfg.BrokerURL == "" {
		return nil, errors.New("broker URL cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "soilguard-engine"
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 10 * time.Second
	}

	s := &MQTTSource{
		logger: cfg.Logger,
		engine: cfg.Engine,
		topic:  cfg.Topic,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(cfg.PingTimeout)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Start connects to the broker. Subscription happens in the connect
// handler so it survives reconnects.
func (s *MQTTSource) Start() error {
	s.logger.Info("connecting to MQTT broker", "topic", s.topic)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

func (s *MQTTSource) onConnect(client mqtt.Client) {
	s.logger.Info("connected to MQTT broker")
	if token := client.Subscribe(s.topic, 1, s.handleMessage); token.Wait() && token.Error() != nil {
		s.logger.Error("failed to subscribe", "topic", s.topic, "error", token.Error())
	}
}

func (s *MQTTSource) onConnectionLost(_ mqtt.Client, err error) {
	s.logger.Warn("MQTT connection lost", "error", err)
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload wire.ReadingPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		s.logger.Error("failed to unmarshal MQTT reading", "topic", msg.Topic(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttPersistTimeout)
	defer cancel()

	record, rec, err := s.engine.Ingest(ctx, payload.Reading())
	if err != nil {
		s.logger.Warn("MQTT reading not applied",
			"field_id", payload.FieldID,
			"reason", engine.RejectReason(err),
		)
		return
	}

	s.logger.Debug("MQTT reading scored",
		"field_id", record.FieldID,
		"score", record.Score,
		"fertilizer", rec.Fertilizer,
	)
}

// Stop disconnects from the broker.
func (s *MQTTSource) Stop() {
	s.logger.Info("disconnecting from MQTT broker")
	s.client.Disconnect(250)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pepperfield.dev/soilguard/internal/engine"
	"pepperfield.dev/soilguard/internal/server"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run the scoring engine server",
	Long: `Run the scoring engine server that:
- Consumes soil sensor readings from RabbitMQ
- Optionally consumes readings from an MQTT broker
- Scores soil health and recommends fertilizers per field
- Persists score records and recommendations to PostgreSQL
- Serves the HTTP API and Prometheus metrics`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(engineCmd)

	// Engine-specific flags
	engineCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	engineCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	engineCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	engineCmd.Flags().String("db-password", "", "PostgreSQL password")
	engineCmd.Flags().String("db-name", "soilguard", "PostgreSQL database name")
	engineCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	engineCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	engineCmd.Flags().String("queue-name", "soil-readings", "RabbitMQ queue name for soil readings")
	engineCmd.Flags().String("mqtt-broker-url", "", "MQTT broker URL (empty disables the MQTT source)")
	engineCmd.Flags().String("mqtt-topic", "soilguard/readings", "MQTT topic for soil readings")
	engineCmd.Flags().String("mqtt-client-id", "soilguard-engine", "MQTT client ID")
	engineCmd.Flags().String("mqtt-username", "", "MQTT username")
	engineCmd.Flags().String("mqtt-password", "", "MQTT password")
	engineCmd.Flags().Int("http-port", 8080, "HTTP API port")

	// Bind flags to viper
	_ = viper.BindPFlag("engine.db.host", engineCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("engine.db.port", engineCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("engine.db.user", engineCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("engine.db.password", engineCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("engine.db.name", engineCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("engine.db.sslmode", engineCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("engine.rabbitmq.url", engineCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("engine.rabbitmq.queue_name", engineCmd.Flags().Lookup("queue-name"))
	_ = viper.BindPFlag("engine.mqtt.broker_url", engineCmd.Flags().Lookup("mqtt-broker-url"))
	_ = viper.BindPFlag("engine.mqtt.topic", engineCmd.Flags().Lookup("mqtt-topic"))
	_ = viper.BindPFlag("engine.mqtt.client_id", engineCmd.Flags().Lookup("mqtt-client-id"))
	_ = viper.BindPFlag("engine.mqtt.username", engineCmd.Flags().Lookup("mqtt-username"))
	_ = viper.BindPFlag("engine.mqtt.password", engineCmd.Flags().Lookup("mqtt-password"))
	_ = viper.BindPFlag("engine.http.port", engineCmd.Flags().Lookup("http-port"))
}

// engineConfigFromViper loads the optional scoring rule tables. Absent
// keys leave the table nil so the engine falls back to its defaults.
func engineConfigFromViper() (*engine.Config, error) {
	cfg := &engine.Config{}

	if viper.IsSet("engine.ranges") {
		if err := viper.UnmarshalKey("engine.ranges", &cfg.Ranges); err != nil {
			return nil, fmt.Errorf("failed to parse nutrient ranges: %w", err)
		}
	}

	if viper.IsSet("engine.weights") {
		if err := viper.UnmarshalKey("engine.weights", &cfg.Weights); err != nil {
			return nil, fmt.Errorf("failed to parse score weights: %w", err)
		}
	}

	if viper.IsSet("engine.fertilizers") {
		if err := viper.UnmarshalKey("engine.fertilizers", &cfg.FertilizerRules); err != nil {
			return nil, fmt.Errorf("failed to parse fertilizer rules: %w", err)
		}
	}

	if viper.IsSet("engine.dose_bounds") {
		if err := viper.UnmarshalKey("engine.dose_bounds", &cfg.DoseBounds); err != nil {
			return nil, fmt.Errorf("failed to parse dose bounds: %w", err)
		}
	}

	return cfg, nil
}

func runEngine(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting engine service")

	engineCfg, err := engineConfigFromViper()
	if err != nil {
		logger.Error("failed to load scoring configuration", "error", err)
		return err
	}

	// Create server configuration from viper
	config := &server.ServerConfig{
		Logger:        logger,
		Engine:        engineCfg,
		DBHost:        viper.GetString("engine.db.host"),
		DBPort:        viper.GetInt("engine.db.port"),
		DBUser:        viper.GetString("engine.db.user"),
		DBPassword:    viper.GetString("engine.db.password"),
		DBName:        viper.GetString("engine.db.name"),
		DBSSLMode:     viper.GetString("engine.db.sslmode"),
		RabbitMQURL:   viper.GetString("engine.rabbitmq.url"),
		QueueName:     viper.GetString("engine.rabbitmq.queue_name"),
		MQTTBrokerURL: viper.GetString("engine.mqtt.broker_url"),
		MQTTTopic:     viper.GetString("engine.mqtt.topic"),
		MQTTClientID:  viper.GetString("engine.mqtt.client_id"),
		MQTTUsername:  viper.GetString("engine.mqtt.username"),
		MQTTPassword:  viper.GetString("engine.mqtt.password"),
		HTTPPort:      viper.GetInt("engine.http.port"),
	}

	// Create and run server
	srv, err := server.NewServer(config)
	if err != nil {
		logger.Error("failed to create engine server", "error", err)
		return err
	}

	logger.Info("engine server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"rabbitmq_url", config.RabbitMQURL,
		"queue", config.QueueName,
		"mqtt_broker", config.MQTTBrokerURL,
		"http_port", config.HTTPPort,
	)

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("engine server error", "error", err)
		return err
	}

	logger.Info("engine server stopped")
	return nil
}

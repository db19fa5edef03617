package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pepperfield.dev/soilguard/internal/simulator"
)

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run the field simulator",
	Long: `Run the field simulator that:
- Generates synthetic soil sensor readings for pepper fields
- Publishes readings to RabbitMQ as JSON
- Advances each field through its growth stages over time
- Supports multiple concurrently simulated fields`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(simulatorCmd)

	// Simulator-specific flags
	simulatorCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	simulatorCmd.Flags().String("queue-name", "soil-readings", "RabbitMQ queue name for soil readings")
	simulatorCmd.Flags().Int("field-count", 3, "Number of concurrently simulated fields")
	simulatorCmd.Flags().Duration("interval", 5*time.Second, "Interval between readings per field")
	simulatorCmd.Flags().Int("readings-per-stage", 50, "Readings emitted before a field advances to the next growth stage (0 disables)")

	// Bind flags to viper
	_ = viper.BindPFlag("simulator.rabbitmq.url", simulatorCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("simulator.rabbitmq.queue_name", simulatorCmd.Flags().Lookup("queue-name"))
	_ = viper.BindPFlag("simulator.field_count", simulatorCmd.Flags().Lookup("field-count"))
	_ = viper.BindPFlag("simulator.interval", simulatorCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("simulator.readings_per_stage", simulatorCmd.Flags().Lookup("readings-per-stage"))
}

func runSimulator(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting simulator service")

	// Create simulator configuration from viper
	config := &simulator.ServerConfig{
		Logger:           logger,
		RabbitMQURL:      viper.GetString("simulator.rabbitmq.url"),
		QueueName:        viper.GetString("simulator.rabbitmq.queue_name"),
		FieldCount:       viper.GetInt("simulator.field_count"),
		Interval:         viper.GetDuration("simulator.interval"),
		ReadingsPerStage: viper.GetInt("simulator.readings_per_stage"),
	}

	// Create and run server
	srv, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator server", "error", err)
		return err
	}

	logger.Info("simulator server configuration",
		"rabbitmq_url", config.RabbitMQURL,
		"queue", config.QueueName,
		"field_count", config.FieldCount,
		"interval", config.Interval,
		"readings_per_stage", config.ReadingsPerStage,
	)

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("simulator server error", "error", err)
		return err
	}

	logger.Info("simulator server stopped")
	return nil
}

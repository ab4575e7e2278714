// cmd/sensor-sim/main.go
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	sensorSimulator "github.com/LeonardoBeccarini/silo_monitor/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/rabbitmq"
)

func main() {
	deviceID := flag.String("device-id", "ESP32_01", "device identifier sent with every reading")
	mode := flag.String("mode", "http", "transport: http | mqtt")
	url := flag.String("url", "http://localhost:8080/sensor-data", "ingestion endpoint (http mode)")
	host := flag.String("mqtt-host", "localhost", "MQTT broker host (mqtt mode)")
	port := flag.Int("mqtt-port", 1883, "MQTT broker port (mqtt mode)")
	topic := flag.String("topic", "silo/readings", "MQTT topic (mqtt mode)")
	clientID := flag.String("client-id", "siloSensor1", "MQTT client ID")
	interval := flag.Duration("interval", 3*time.Second, "publish interval")
	flag.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.TimeOnly})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sender sensorSimulator.Sender
	switch *mode {
	case "mqtt":
		cfg := &rabbitmq.RabbitMQConfig{
			Host:     *host,
			Port:     *port,
			User:     "guest",
			Password: "guest",
			ClientID: *clientID,
		}
		client, err := rabbitmq.NewRabbitMQConn(cfg, ctx)
		if err != nil {
			log.Fatal(err)
		}
		defer rabbitmq.CloseRabbitMQConn(client)
		sender = sensorSimulator.MQTTSender{Publisher: rabbitmq.NewPublisher(client, *topic, rabbitmq.WithQoS(1))}
	case "http":
		sender = sensorSimulator.HTTPSender{URL: *url}
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	sim := sensorSimulator.NewSensorSimulator(*deviceID, sensorSimulator.NewDataGenerator(nil), sender)
	log.Printf("sensor: %s publishing every %s via %s", *deviceID, *interval, *mode)
	sim.Start(ctx, *interval)
}

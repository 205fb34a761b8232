// Command surplight supervises one Surplife BLE RGB light and bridges
// it to MQTT: state changes are published to the broker and set
// commands on the command topic are sent to the device.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kmoran/surplight/internal/ble"
	"github.com/kmoran/surplight/internal/config"
	"github.com/kmoran/surplight/internal/light"
	"github.com/kmoran/surplight/internal/mqtt"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/surplight/config.yaml)")
	address := flag.String("address", "", "device BLE address (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *address != "" {
		cfg.Device.Address = *address
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	setupLogging(cfg.LogLevel)
	printBanner(cfg)

	adapter := ble.NewBluezAdapter()
	if err := adapter.Enable(); err != nil {
		log.Fatalf("enable BLE adapter: %v", err)
	}

	publisher, err := mqtt.Connect(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.EffectiveTopicPrefix(),
	})
	if err != nil {
		log.Fatalf("mqtt: %v", err)
	}

	link := ble.NewLink(adapter, cfg.Device.Address, ble.LinkOptions{
		ReconnectDelay: time.Duration(cfg.Device.ReconnectDelaySeconds) * time.Second,
		ConnectTimeout: time.Duration(cfg.Device.ConnectTimeoutSeconds) * time.Second,
	})
	controller := light.NewController(link, publisher)
	link.OnNotification(controller.HandleNotification)
	link.OnAvailabilityChanged(controller.HandleAvailability)

	if err := publisher.SubscribeCommands(controller); err != nil {
		publisher.Close()
		log.Fatalf("mqtt: %v", err)
	}

	// Connect in the background; failures schedule their own reconnects.
	go func() {
		if err := link.Connect(); err != nil {
			slog.Warn("initial connect failed, supervisor will retry", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)

	controller.Close()
	publisher.Close()
	log.Println("Goodbye!")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== surplight ===")
	fmt.Printf("  Device:  %s (%s)\n", cfg.Device.Name, cfg.Device.Address)
	fmt.Printf("  Broker:  %s\n", cfg.MQTT.Broker)
	fmt.Printf("  Topics:  %s/{state,availability,set}\n", cfg.EffectiveTopicPrefix())
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=================")
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"holocam-go/internal/broadcast"
	"holocam-go/internal/camera"
	"holocam-go/internal/config"
	"holocam-go/internal/discovery"
	"holocam-go/internal/holography"
	"holocam-go/internal/server"
	"holocam-go/internal/settings"
	"holocam-go/internal/wifi"
)

const version = "1.0.0"

func main() {
	var (
		port           = flag.Int("port", 8000, "HTTP port for the web UI and API")
		sensorEndpoint = flag.String("sensor-endpoint", "", "ZMQ endpoint of the sensor daemon (empty: synthetic source)")
		sensorControl  = flag.String("sensor-control", "", "HTTP control URL of the sensor daemon")
		frameWidth     = flag.Int("width", 640, "Synthetic frame width in pixels")
		frameHeight    = flag.Int("height", 480, "Synthetic frame height in pixels")
		frameRate      = flag.Float64("fps", 10.0, "Capture loop rate (frames/sec)")
		workers        = flag.Int("workers", 2, "Number of concurrent reconstruction workers")
		iface          = flag.String("interface", "wlan0", "Wireless interface to manage")
		clientScript   = flag.String("wifi-client-script", "", "Script invoked to apply WiFi client configuration")
		apScript       = flag.String("wifi-ap-script", "", "Script invoked to apply access-point configuration")
		mdnsName       = flag.String("mdns-name", "holocam", "mDNS instance name")
		mdnsDisabled   = flag.Bool("mdns-disabled", false, "Disable mDNS announcement")
		statusRate     = flag.Duration("status-rate", 1*time.Second, "Status push interval for websocket clients")
		configPath     = flag.String("config", "", "Optional YAML config file overlaying the flags")
	)
	flag.Parse()

	cfg := config.AppConfig{
		Port:           *port,
		SensorEndpoint: *sensorEndpoint,
		SensorControl:  *sensorControl,
		FrameWidth:     *frameWidth,
		FrameHeight:    *frameHeight,
		FrameRate:      *frameRate,
		Workers:        *workers,
		Interface:      *iface,
		ClientScript:   *clientScript,
		APScript:       *apScript,
		MDNSName:       *mdnsName,
		MDNSDisabled:   *mdnsDisabled,
		StatusRate:     *statusRate,
	}
	if *configPath != "" {
		if err := config.LoadFile(*configPath, &cfg); err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := camera.Open(cfg.SensorEndpoint, cfg.SensorControl, cfg.FrameWidth, cfg.FrameHeight)
	defer src.Close()

	frames := broadcast.New(src, cfg.FrameRate)
	frames.Start(ctx)
	defer frames.Stop()

	initial, err := src.ApplySettings(camera.Settings{ExposureUs: 10000, Gain: 1.0})
	if err != nil {
		log.Fatalf("camera: initial settings rejected: %v", err)
	}
	registry := settings.NewRegistry(src, initial, holography.DefaultParameters())

	var applier wifi.Applier = wifi.LogApplier{}
	if cfg.ClientScript != "" || cfg.APScript != "" {
		applier = &wifi.ScriptApplier{
			ClientScript:      cfg.ClientScript,
			AccessPointScript: cfg.APScript,
		}
	}
	network := wifi.NewManager(wifi.NewSystemBackend(cfg.Interface), applier, cfg.Interface)

	if !cfg.MDNSDisabled {
		announcer, err := discovery.Announce(cfg.MDNSName, cfg.Port, version)
		if err != nil {
			log.Printf("discovery: announcement failed: %v", err)
		} else {
			defer announcer.Shutdown()
		}
	}

	log.Printf("starting web UI at http://localhost:%d", cfg.Port)
	if err := server.Run(ctx, cfg, frames, registry, holography.NewEngine(), network); err != nil {
		log.Printf("server stopped: %v", err)
	}
}

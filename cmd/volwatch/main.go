package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"k8s.io/klog/v2"

	"github.com/volwatch/volwatch/pkg/config"
	"github.com/volwatch/volwatch/pkg/models"
	"github.com/volwatch/volwatch/pkg/scanner"
)

// Version can be set at build time using -ldflags
// Example: go build -ldflags="-X main.Version=1.0.0"
var Version = "dev"

func main() {
	// Initialize klog first
	klog.InitFlags(nil)

	// Parse command line flags
	mode := flag.String("mode", "direct", "Operation mode: test or direct")
	logLevel := flag.String("log-level", "info", "Log level: info or debug")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("volwatch version %s\n", Version)
		return
	}

	// Validate mode
	if *mode != "test" && *mode != "direct" {
		klog.Fatalf("Invalid mode: %s. Must be one of: test, direct", *mode)
	}

	// Validate log level
	if *logLevel != "info" && *logLevel != "debug" {
		klog.Fatalf("Invalid log level: %s. Must be one of: info, debug", *logLevel)
	}

	// Validate and set log format
	if *logFormat != "text" && *logFormat != "json" {
		klog.Fatalf("Invalid log format: %s. Must be one of: text, json", *logFormat)
	}
	if *logFormat == "json" {
		// Configure zap for JSON logging
		var zapLog *zap.Logger
		var err error
		if *logLevel == "debug" {
			zapLog, err = zap.NewDevelopment()
		} else {
			zapLog, err = zap.NewProduction()
		}
		if err != nil {
			klog.Fatalf("Failed to initialize JSON logger: %v", err)
		}
		defer zapLog.Sync()

		// Set klog to use zap backend for JSON output
		klog.SetLogger(zapr.NewLogger(zapLog))
	}

	klog.Infof("Starting volwatch version %s in %s mode with %s log level", Version, *mode, *logLevel)

	cfg := config.NewConfig(*mode)
	cfg.LogLevel = *logLevel

	// Set klog verbosity based on log level
	if *logLevel == "debug" {
		flag.Set("v", "1")
	}

	s, err := scanner.New(cfg)
	if err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}
	klog.Infof("Polling period: %.2f h (bounds %.4f h .. %.0f h)", s.Period(), s.MinimumPeriod(), s.MaximumPeriod())
	klog.Infof("Default low-space threshold: %.1f%%", cfg.DefaultThresholdPercent)
	if len(cfg.ExclusionMasks) > 0 {
		klog.Infof("Exclusion masks: %v", cfg.ExclusionMasks)
	}
	klog.Infof("Volume customizations: %d", len(cfg.Customizations))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range s.Events() {
			switch ev.Kind {
			case scanner.EventScanning:
				klog.Infof("Volume scan in progress")
			case scanner.EventReady:
				logSnapshot(ev.Results)
			}
		}
	}()

	s.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	klog.Infof("Received %s, shutting down", sig)

	s.Stop()
	if err := s.Terminate(); err != nil {
		klog.Warningf("Watcher teardown reported: %v", err)
	}
	<-done
	klog.Flush()
}

func logSnapshot(volumes []models.Volume) {
	shown := 0
	for _, v := range volumes {
		if !v.Shown {
			continue
		}
		shown++
		capacityGB, err := models.BytesToGB(v.CapacityBytes, models.Base10)
		if err != nil {
			continue
		}
		freeGB, _ := models.BytesToGB(v.FreeBytes, models.Base10)
		klog.Infof("Volume %q (%s on %s): %.1f GB free of %.1f GB (%.1f%% free), low-space alert: %v",
			v.Name, v.Type, v.MountPoint, freeGB, capacityGB, v.FreePercent(), v.LowSpaceAlert)
	}
	klog.Infof("Snapshot ready: %d volume(s), %d shown", len(volumes), shown)
}

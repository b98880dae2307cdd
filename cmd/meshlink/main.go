// meshlink is the command-line companion of the meshlink overlay client
// library.
//
// Usage:
//
//	meshlink [flags] init       Write a default configuration file
//	meshlink [flags] check      Validate the configuration file
//	meshlink [flags] resolve    Resolve the configured coordination servers
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.meshlink/meshlink.toml")
//	-token string
//	    Network token written by init
//	-force
//	    Overwrite an existing file in init
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-i2p/meshlink/lib/config"
	"github.com/go-i2p/meshlink/lib/resolve"
	"github.com/go-i2p/meshlink/lib/validation"
	"github.com/go-i2p/meshlink/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".meshlink", "meshlink.toml")

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	token := flag.String("token", "", "Network token written by init")
	force := flag.Bool("force", false, "Overwrite an existing file in init")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "meshlink - overlay network client\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  meshlink [flags] init       Write a default configuration file\n")
		fmt.Fprintf(os.Stderr, "  meshlink [flags] check      Validate the configuration file\n")
		fmt.Fprintf(os.Stderr, "  meshlink [flags] resolve    Resolve the configured coordination servers\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("meshlink version %s (%s)\n", version.Full(), version.Client())
		return 0
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 1
	}

	switch args[0] {
	case "init":
		return handleInit(logger, *configPath, *token, *force)
	case "check":
		return handleCheck(logger, *configPath)
	case "resolve":
		return handleResolve(logger, *configPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		flag.Usage()
		return 1
	}
}

// handleInit handles the "init" subcommand.
func handleInit(logger *slog.Logger, path, token string, force bool) int {
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists (use -force to overwrite)\n", path)
		return 1
	}

	opts := config.DefaultOptions()
	opts.Token = token
	opts.DeviceID = newDeviceID()

	if err := config.SaveOptions(opts, path); err != nil {
		logger.Error("failed to write config", "path", path, "error", err)
		return 1
	}

	fmt.Printf("Wrote %s\n", path)
	if token == "" {
		fmt.Println("Set token before connecting.")
	}
	return 0
}

// handleCheck handles the "check" subcommand.
func handleCheck(logger *slog.Logger, path string) int {
	cfg, err := config.Load(path)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			fmt.Fprintf(os.Stderr, "%s is invalid:\n", path)
			for _, e := range verrs {
				fmt.Fprintf(os.Stderr, "  - %v\n", e)
			}
			return 1
		}
		logger.Error("failed to load config", "path", path, "error", err)
		return 1
	}

	printConfig(cfg)
	return 0
}

// handleResolve handles the "resolve" subcommand.
func handleResolve(logger *slog.Logger, path string) int {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config", "path", path, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	r := resolve.New(cfg.NameServers)
	failed := 0
	for _, server := range cfg.Servers {
		addrs, err := r.Resolve(ctx, server)
		if err != nil {
			fmt.Printf("%-32s error: %v\n", server, err)
			failed++
			continue
		}
		out := make([]string, len(addrs))
		for i, a := range addrs {
			out[i] = a.String()
		}
		fmt.Printf("%-32s %s\n", server, strings.Join(out, ", "))
	}

	if failed == len(cfg.Servers) {
		return 1
	}
	return 0
}

func printConfig(cfg *config.Config) {
	fmt.Printf("Name:         %s\n", cfg.Name)
	fmt.Printf("Device ID:    %s\n", cfg.DeviceID)
	if cfg.IP.IsValid() {
		fmt.Printf("Static IP:    %s\n", cfg.IP)
	}
	fmt.Printf("Servers:      %s\n", strings.Join(cfg.Servers, ", "))
	fmt.Printf("Transport:    %s %v\n", cfg.Transport, cfg.ListenPorts())
	fmt.Printf("Cipher:       %s\n", cfg.Cipher)
	fmt.Printf("Punch:        %s\n", cfg.Punch)
	fmt.Printf("Channel:      %s\n", cfg.Channel)
	if cfg.MTU == 0 {
		fmt.Printf("MTU:          auto\n")
	} else {
		fmt.Printf("MTU:          %d\n", cfg.MTU)
	}
	for _, r := range cfg.InRoutes {
		fmt.Printf("Inbound:      %s\n", r)
	}
	for _, p := range cfg.OutRoutes {
		fmt.Printf("Outbound:     %s\n", p)
	}
	if cfg.Diagnostics() {
		fmt.Printf("Diagnostics:  loss=%.2f delay=%s\n", cfg.PacketLoss, cfg.PacketDelay)
	}
	fmt.Printf("Client:       %s\n", version.Client())
}

// newDeviceID names this device after the host, with a suffix so two
// installs on one host differ.
func newDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "meshlink"
	}
	return fmt.Sprintf("%s-%x", host, time.Now().UnixNano()&0xffffff)
}

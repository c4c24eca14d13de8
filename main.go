package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes per spec.md §6.
const (
	exitOK            = 0
	exitConfigInvalid = 1
	exitBindFailed    = 2
	exitRuntimeError  = 3
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	mode := flag.String("mode", "local", `run mode: "local" or "remote"`)
	testConfig := flag.Bool("t", false, "test configuration and exit")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration test FAILED: %v\n", err)
		os.Exit(exitConfigInvalid)
	}

	if *testConfig {
		printConfigSummary(*configPath, cfg, *mode)
		os.Exit(exitOK)
	}

	core, err := NewCore(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[main] %v\n", err)
		os.Exit(exitConfigInvalid)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		core.Log.Infow("received shutdown signal", "signal", sig.String())
		core.Shutdown()
	}()

	var runErr error
	switch *mode {
	case "local":
		runErr = core.RunLocal()
	case "remote":
		runErr = core.RunRemote()
	default:
		fmt.Fprintf(os.Stderr, "[main] unknown mode %q: must be \"local\" or \"remote\"\n", *mode)
		os.Exit(exitConfigInvalid)
	}

	if runErr != nil {
		core.Log.Errorw("fatal", "error", runErr)
		if errors.Is(runErr, ErrBindFailed) {
			os.Exit(exitBindFailed)
		}
		os.Exit(exitRuntimeError)
	}
}

func printConfigSummary(path string, cfg *Config, mode string) {
	fmt.Printf("configuration file %s test OK\n", path)
	fmt.Printf("  mode:                %s\n", mode)
	fmt.Printf("  method:              %s\n", cfg.Method)
	fmt.Printf("  local:               %s:%d\n", cfg.LocalHost, cfg.LocalPort)
	if cfg.HTTPPort != 0 {
		fmt.Printf("  http:                %s:%d\n", cfg.LocalHost, cfg.HTTPPort)
	}
	fmt.Printf("  remote:              %s:%d\n", cfg.ServerHost, cfg.ServerPort)
	fmt.Printf("  timeout_sec:         %d\n", cfg.TimeoutSec)
	fmt.Printf("  connect_timeout_sec: %d\n", cfg.ConnectTimeoutSec)
	fmt.Printf("  max_connections:     %d\n", cfg.MaxConnections)
	if cfg.StatsAddr != "" {
		fmt.Printf("  stats_addr:          %s\n", cfg.StatsAddr)
	}
	if cfg.Egress != nil {
		fmt.Printf("  egress pool:         %d address(es) on %s\n", len(cfg.Egress.Addrs), cfg.Egress.Interface)
	}
}

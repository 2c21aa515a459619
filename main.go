package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oof-baroomf/claude-code-router-responses/internal/config"
	"github.com/oof-baroomf/claude-code-router-responses/internal/logging"
	"github.com/oof-baroomf/claude-code-router-responses/internal/process"
	"github.com/oof-baroomf/claude-code-router-responses/internal/router"
	"github.com/oof-baroomf/claude-code-router-responses/internal/server"
	"github.com/oof-baroomf/claude-code-router-responses/internal/tokens"
	"github.com/oof-baroomf/claude-code-router-responses/internal/upstream"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const commands = "Commands: serve, start, stop, status, version"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: ccr <command> [flags]")
		fmt.Fprintln(os.Stderr, commands)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(cmdServe())
	case "start":
		os.Exit(cmdStart())
	case "stop":
		os.Exit(cmdStop())
	case "status":
		os.Exit(cmdStatus())
	case "version", "-v", "--version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, commands)
		os.Exit(1)
	}
}

func pidFile() process.PIDFile {
	return process.PIDFile{Path: config.PIDPath()}
}

func cmdServe() int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "Path to the JSON or YAML config file")
	host := fs.String("host", "", "Bind host (overrides HOST)")
	port := fs.Int("port", 0, "Listen port (overrides PORT and SERVICE_PORT)")
	_ = fs.Parse(os.Args[2:])

	logging.Setup()
	defer logging.Close()

	if err := config.EnsureHomeDir(); err != nil {
		log.WithError(err).Error("cannot create home directory")
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("cannot load configuration")
		return 1
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if err := logging.Configure(cfg); err != nil {
		log.WithError(err).Error("cannot configure logging")
		return 1
	}

	if home, err := os.UserHomeDir(); err == nil {
		created, err := config.EnsureClaudeClientConfig(home)
		switch {
		case err != nil:
			log.WithError(err).Warn("cannot write Claude client config")
		case created:
			log.Info("wrote Claude client config")
		}
	}

	pf := pidFile()
	if pid, running := pf.Running(); running {
		log.WithField("pid", pid).Error("service is already running")
		return 1
	}
	if err := pf.Write(os.Getpid()); err != nil {
		log.WithError(err).Error("cannot write pid file")
		return 1
	}
	defer func() { _ = pf.Remove() }()

	est, err := tokens.NewEstimator()
	if err != nil {
		log.WithError(err).Error("cannot load tokenizer")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := router.FromConfig(ctx, cfg.Router)
	srv := server.New(cfg, rt, est, upstream.NewClient(cfg))

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	log.WithFields(log.Fields{
		"addr":    cfg.Addr(),
		"default": rt.Config().Default,
		"version": version,
	}).Info("claude-code-router starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("server error")
		return 1
	}
	return 0
}

func cmdStart() int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "Path to the JSON or YAML config file")
	port := fs.Int("port", 0, "Listen port for the background service")
	_ = fs.Parse(os.Args[2:])

	pf := pidFile()
	if pid, running := pf.Running(); running {
		fmt.Printf("Service already running (pid %d)\n", pid)
		return 0
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot locate executable: %v\n", err)
		return 1
	}
	cmd := exec.Command(exe, "serve", "--config", *configPath)
	cmd.Env = os.Environ()
	if *port != 0 {
		cmd.Env = append(cmd.Env, "SERVICE_PORT="+strconv.Itoa(*port))
	}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "cannot start service: %v\n", err)
		return 1
	}
	_ = cmd.Process.Release()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pid, running := pf.Running(); running {
			fmt.Printf("Service started (pid %d)\n", pid)
			return 0
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "Service did not report a pid; check the log for errors")
	return 1
}

func cmdStop() int {
	pid, err := pidFile().Stop()
	switch {
	case errors.Is(err, process.ErrNotRunning):
		fmt.Println("Service is not running")
		return 0
	case err != nil:
		fmt.Fprintf(os.Stderr, "cannot stop service (pid %d): %v\n", pid, err)
		return 1
	}
	fmt.Printf("Service stopped (pid %d)\n", pid)
	return 0
}

func cmdStatus() int {
	pf := pidFile()
	if pid, running := pf.Running(); running {
		fmt.Printf("Service is running (pid %d, pid file %s)\n", pid, pf.Path)
		return 0
	}
	fmt.Println("Service is not running")
	return 3
}

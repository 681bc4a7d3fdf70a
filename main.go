package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/pflag"

	"chatalk/config"
	"chatalk/server"
	"chatalk/store"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to YAML config file")
	portOverride := pflag.IntP("port", "p", 0, "listen port (overrides config)")
	pflag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *portOverride != 0 {
		cfg.Port = *portOverride
	}

	gateway, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open store", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer gateway.Close()

	srv := server.New(gateway, &server.Config{
		Port:          cfg.Port,
		IdleTimeout:   time.Duration(cfg.IdleTimeout) * time.Second,
		LockoutWindow: time.Duration(cfg.LockoutWindow) * time.Second,
		WriteTimeout:  time.Duration(cfg.WriteTimeout) * time.Second,
	}, log)

	go startHealthServer(srv, cfg.HealthPort, log)
	go startControlSocket(srv, cfg.ControlSocket, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("shutting down", "signal", sig.String())
		srv.Shutdown()
		os.Remove(cfg.ControlSocket)
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		log.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// startHealthServer exposes liveness and session stats on a side port.
func startHealthServer(srv *server.Server, port int, log *slog.Logger) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(srv.Stats() + "\n"))
	})

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn("health server stopped", "err", err)
	}
}

// startControlSocket serves management commands on a unix socket:
// "stats" and "shutdown", one command per connection.
func startControlSocket(srv *server.Server, path string, log *slog.Logger) {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		log.Warn("failed to create control socket", "path", path, "err", err)
		return
	}
	defer listener.Close()
	defer os.Remove(path)

	log.Info("control socket listening", "path", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}
		go handleControlCommand(srv, conn, path, log)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn, socketPath string, log *slog.Logger) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		conn.Write([]byte("OK|" + srv.Stats() + "\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		log.Info("shutdown requested via control socket")
		srv.Shutdown()
		os.Remove(socketPath)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}

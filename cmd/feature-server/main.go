package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebas/featureserver/internal/alert"
	"github.com/sebas/featureserver/internal/banner"
	"github.com/sebas/featureserver/internal/config"
	"github.com/sebas/featureserver/internal/logger"
	"github.com/sebas/featureserver/internal/requestor"
	"github.com/sebas/featureserver/internal/task"
	"github.com/sebas/featureserver/internal/telemetry"
)

// server bundles the process-wide, shared resources every CallSession
// draws on: the requestor transports' pool, the telemetry collector,
// the alert emitter, and the task registry. A real deployment accepts
// calls via an external SIP front end that constructs one
// session.CallSession per call from these shared resources; that front
// end is outside this module's scope (see non-goals).
type server struct {
	cfg    *config.Config
	pool   *requestor.Pool
	tel    *telemetry.Collector
	alerts alert.Emitter
	reg    *task.Registry
	log    *slog.Logger

	metricsSrv *http.Server
}

func newServer(cfg *config.Config, log *slog.Logger) *server {
	tel := telemetry.New(prometheus.DefaultRegisterer)
	return &server{
		cfg:    cfg,
		pool:   requestor.NewPool(cfg),
		tel:    tel,
		alerts: alert.New(log),
		reg:    task.DefaultRegistry(),
		log:    log,
	}
}

func (s *server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsSrv = &http.Server{Addr: ":8080", Handler: mux}
	s.log.Info("metrics endpoint listening", "addr", s.metricsSrv.Addr)
	if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *server) Close() {
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metricsSrv.Shutdown(ctx)
	}
	s.pool.Close()
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, "feature-server")
	slog.SetDefault(log)

	banner.Print("feature-server", []banner.ConfigLine{
		{Label: "log_level", Value: cfg.LogLevel},
		{Label: "http_pool", Value: boolStr(cfg.HTTPPoolEnabled)},
		{Label: "http_poolsize", Value: intStr(cfg.HTTPPoolSize)},
		{Label: "max_reconnects", Value: intStr(cfg.MaxReconnects)},
		{Label: "response_timeout", Value: cfg.ResponseTimeout.String()},
	})

	srv := newServer(cfg, log)
	defer srv.Close()

	run(srv, log)
}

func run(srv *server, log *slog.Logger) {
	logNetworkInterfaces(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			log.Error("server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received signal, shutting down", "signal", sig)
	cancel()

	time.Sleep(1 * time.Second)
}

func logNetworkInterfaces(log *slog.Logger) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return
	}
	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err != nil {
				continue
			}
			log.Debug("network interface", "interface", iface.Name, "ip", ip.String())
		}
	}
}

func boolStr(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func intStr(n int) string {
	return strconv.Itoa(n)
}

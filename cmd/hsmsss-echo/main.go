// Command hsmsss-echo runs an HSMS-SS communicator that answers every primary data
// message expecting a reply with the same stream, function+1 and body.
//
// Usage:
//
//	hsmsss-echo -config ex.config.toml
//
// Metrics of the communicator are served on /metrics of metrics_addr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fablink/go-hsms/hsms"
	"github.com/fablink/go-hsms/hsmsss"
	"github.com/fablink/go-hsms/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "ex.config.toml", "path of the TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "hsmsss-echo: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	echoCfg, err := loadEchoConfig(configPath)
	if err != nil {
		return err
	}

	log := logger.NewSlog(echoCfg.LogLevel, false)
	logger.SetDefault(log)

	connCfg, err := hsmsss.NewConnectionConfig(echoCfg.Host, echoCfg.Port,
		append(echoCfg.Options, hsmsss.WithLogger(log))...)
	if err != nil {
		return fmt.Errorf("connection config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := hsmsss.NewConnection(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}

	conn.AddMessageReceivedBiListener(newEchoHandler(ctx, log))
	conn.AddCommunicatableStateChangeListener(func(communicatable bool) {
		log.Info("communicatable changed", "communicatable", communicatable)
	})

	var srv *http.Server
	if echoCfg.MetricsAddr != "" {
		srv = newMetricsServer(echoCfg.MetricsAddr, conn)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", "error", err)
			}
		}()
		log.Info("metrics server started", "address", echoCfg.MetricsAddr)
	}

	if err := conn.Open(); err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	log.Info("echo communicator started",
		"address", connCfg.Address(), "role", connCfg.Role().String(), "id", conn.ID())

	<-ctx.Done()
	log.Info("exit signal received")

	if err := conn.Close(); err != nil {
		log.Error("failed to close connection", "error", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	log.Info("shutdown finished")

	return nil
}

// newEchoHandler replies to primary data messages that expect a reply.
func newEchoHandler(ctx context.Context, log logger.Logger) func(*hsms.Message, *hsmsss.Connection) {
	return func(msg *hsms.Message, conn *hsmsss.Connection) {
		log.Debug("receive message",
			"id", msg.ID(),
			"streamCode", msg.StreamCode(),
			"functionCode", msg.FunctionCode(),
			"waitBit", msg.WaitBit(),
		)

		if !msg.IsPrimary() || !msg.WaitBit() {
			return
		}

		if err := conn.ReplyDataMessage(ctx, msg, msg.Body()); err != nil {
			log.Error("failed to reply message", "id", msg.ID(), "error", err)
		}
	}
}

func newMetricsServer(addr string, conn *hsmsss.Connection) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		hsmsss.NewMetricsCollector(conn),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

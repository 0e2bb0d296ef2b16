package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/armbridge/armbridge/internal/bridge"
	"github.com/armbridge/armbridge/internal/bus"
	"github.com/armbridge/armbridge/internal/config"
	"github.com/armbridge/armbridge/internal/fri"
	"github.com/armbridge/armbridge/internal/handoff"
	"github.com/armbridge/armbridge/internal/history"
	"github.com/armbridge/armbridge/internal/logging"
	"github.com/armbridge/armbridge/internal/metrics"
	"github.com/armbridge/armbridge/internal/server"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Run the armbridge daemon",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "armbridge.yaml", "path to config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// A local .env feeds overrides through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	log := logging.Default()
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stepper, err := newStepper(cfg.Controller)
	if err != nil {
		return err
	}

	commands := handoff.New[fri.Command]()

	natsURL := cfg.NATS.URL
	if v := os.Getenv("ARMBRIDGE_NATS_URL"); v != "" {
		natsURL = v
	}
	nc, err := nats.Connect(natsURL, nats.Name("armbridge"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	b := bus.New(nc, commands, bus.Options{
		CommandSubject: cfg.NATS.CommandSubject,
		StateSubject:   cfg.NATS.StateSubject,
		Logger:         log,
	})
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = b.Stop() }()

	var (
		events server.EventSource
		rec    bridge.Recorder
	)
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
		events = store
		rec = store
	}

	mgr, err := bridge.NewManager(bridge.Options{
		Stepper:     stepper,
		Commands:    commands,
		Sink:        b,
		Logger:      log,
		Recorder:    rec,
		JoinTimeout: time.Duration(cfg.Controller.JoinTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	reg := prometheus.NewRegistry()
	err = metrics.Register(reg, metrics.Sources{
		Status:        mgr.Status,
		BusPublished:  b.Published,
		BusBadInbound: b.BadCommands,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Bridge:      mgr,
		Events:      events,
		Metrics:     metrics.Handler(reg),
		Logger:      log,
		BaseContext: ctx,
	})
	if err != nil {
		return err
	}

	if cfg.Controller.AutoConnect {
		// A refused handshake at startup is reported, not fatal; the
		// operator can retry over the API.
		if _, err := mgr.Connect(ctx, cfg.Controller.Port, cfg.Controller.Host); err != nil {
			log.Warn("auto-connect failed", "port", cfg.Controller.Port, "err", err)
		}
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown failed", "err", err)
		}
	}()

	return srv.Start()
}

func newStepper(cfg config.Controller) (fri.Stepper, error) {
	switch cfg.Driver {
	case "sim":
		return fri.NewSimStepper(time.Duration(cfg.SampleTimeMS) * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown controller driver: %q", cfg.Driver)
	}
}

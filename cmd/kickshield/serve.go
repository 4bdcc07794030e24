package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/kickshield/internal/api"
	"github.com/verte-zerg/kickshield/internal/config"
	"github.com/verte-zerg/kickshield/internal/detect"
	"github.com/verte-zerg/kickshield/internal/engine"
	"github.com/verte-zerg/kickshield/internal/model"
	"github.com/verte-zerg/kickshield/internal/sensor"
	"github.com/verte-zerg/kickshield/internal/store"
	"github.com/verte-zerg/kickshield/internal/stream"
)

const shutdownTimeout = 5 * time.Second

var (
	serveListen    string
	servePort      string
	serveBaud      int
	serveNATSURL   string
	serveSubject   string
	serveDB        string
	serveLogLevel  string
	serveLogFormat string
	serveSimulate  bool
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the counter and its HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	addServeFlags(cmd)
	return cmd
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serveListen, "listen", defaultListen, "HTTP listen address")
	cmd.Flags().StringVar(&servePort, "port", "", "serial port of the ADC bridge (empty: no sensor)")
	cmd.Flags().IntVar(&serveBaud, "baud", sensor.DefaultBaud, "serial baud rate")
	cmd.Flags().StringVar(&serveNATSURL, "nats-url", "", "NATS server for hit/session events (empty: disabled)")
	cmd.Flags().StringVar(&serveSubject, "subject", stream.DefaultSubject, "NATS subject prefix")
	cmd.Flags().StringVar(&serveDB, "db", "", "SQLite database path")
	cmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&serveLogFormat, "log-format", "text", "log format (text|json)")
	cmd.Flags().BoolVar(&serveSimulate, "simulate", false, "use simulated strikes (persisted)")
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	serveDBPath := config.DefaultDBPath()
	applyStringConfig(cmd, "listen", &serveListen, fileCfg.Server.Listen)
	applyStringConfig(cmd, "port", &servePort, fileCfg.Sensor.Port)
	applyIntConfig(cmd, "baud", &serveBaud, fileCfg.Sensor.Baud)
	applyStringConfig(cmd, "nats-url", &serveNATSURL, fileCfg.Stream.NATSURL)
	applyStringConfig(cmd, "subject", &serveSubject, fileCfg.Stream.Subject)
	applyStringConfig(cmd, "db", &serveDBPath, fileCfg.Store.Path)
	applyStringConfig(cmd, "log-level", &serveLogLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-format", &serveLogFormat, fileCfg.Log.Format)
	if cmd.Flags().Changed("db") {
		serveDBPath = serveDB
	}

	log, err := newLogger(serveLogLevel, serveLogFormat)
	if err != nil {
		return err
	}

	st, err := store.Open(serveDBPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.WithError(cerr).Warn("failed to close db")
		}
	}()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings, err := st.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	var src detect.Sensor = sensor.Flat(0)
	var serial *sensor.Serial
	if servePort != "" {
		serial, err = sensor.Open(servePort, serveBaud)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := serial.Close(); cerr != nil {
				log.WithError(cerr).Debug("failed to close serial port")
			}
		}()
		src = serial
		log.WithFields(logrus.Fields{"port": servePort, "baud": serveBaud}).Info("sensor connected")
	} else if !settings.Simulate {
		log.Warn("no sensor port configured; strikes will only come from simulation")
	}

	eng := engine.New(settings, engine.Options{
		Sensor: src,
		Store:  st,
		Logger: log,
	})
	if cmd.Flags().Changed("simulate") {
		if _, err := eng.UpdateSettings(ctx, model.SettingsUpdate{Simulate: &serveSimulate}); err != nil {
			log.WithError(err).Warn("failed to persist simulate flag")
		}
	}

	hub := api.NewHub(eng.Status, log)
	eng.AddListener(hub)

	if serveNATSURL != "" {
		nc, err := stream.Connect(serveNATSURL, log)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer func() {
			if derr := nc.Drain(); derr != nil {
				log.WithError(derr).Warn("failed to drain nats")
			}
		}()
		pub := stream.NewPublisher(nc, serveSubject, log)
		eng.AddListener(pub)
		log.WithFields(logrus.Fields{"url": serveNATSURL, "subject": serveSubject}).Info("publishing events")
	}

	server := api.NewServer(eng, hub, log).NewHTTPServer(serveListen)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		log.WithField("listen", serveListen).Info("http server running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if serial != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-serial.Done():
				// The loop keeps running on the last reading.
				log.WithError(serial.Err()).WithField("readings", serial.Lines()).Error("sensor stream ended")
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info("stopped")
	return err
}

func newLogger(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q (use text or json)", format)
	}
	return log, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dkeye/voicehub/internal/adapters/backend"
	router "github.com/dkeye/voicehub/internal/adapters/http"
	"github.com/dkeye/voicehub/internal/adapters/rtc"
	signaling "github.com/dkeye/voicehub/internal/adapters/signal"
	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/config"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/metrics"
)

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to config file, overrides config/config.<env>.yaml",
	},
	&cli.StringFlag{
		Name:    "env",
		Usage:   "config environment",
		EnvVars: []string{"CONFIG_ENV"},
	},
	&cli.IntFlag{
		Name:  "port",
		Usage: "HTTP port, overrides config",
	},
	&cli.StringFlag{
		Name:  "mode",
		Usage: "debug, release or test, overrides config",
	},
}

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	a := &cli.App{
		Name:   "voicehub",
		Usage:  "voice and video room orchestration server",
		Flags:  flags,
		Action: startServer,
		Commands: []*cli.Command{
			{
				Name:   "check-config",
				Usage:  "load and validate the configuration, then exit",
				Action: checkConfig,
			},
		},
	}
	if err := a.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("voicehub failed")
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("env"), c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("mode") {
		cfg.Mode = c.String("mode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func checkConfig(c *cli.Context) error {
	if _, err := loadConfig(c); err != nil {
		return err
	}
	log.Info().Msg("config ok")
	return nil
}

func setupLogging(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func startServer(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	reg := app.NewRegistry()
	m := metrics.New(promReg, reg)

	engine, err := rtc.NewEngine(rtc.Config{
		ICEServers:   cfg.RTC.ICEServers,
		UDPPortMin:   uint16(cfg.RTC.UDPPortMin),
		UDPPortMax:   uint16(cfg.RTC.UDPPortMax),
		AnnouncedIPs: cfg.RTC.AnnouncedIPs,
	})
	if err != nil {
		return fmt.Errorf("media engine: %w", err)
	}

	gateway, err := backend.NewClient(backend.Config{
		APIURL:  cfg.Backend.APIURL,
		Timeout: cfg.Backend.Timeout,
	}, m)
	if err != nil {
		return fmt.Errorf("backend client: %w", err)
	}

	var policy app.Policy = app.SimplePolicy{}
	if cfg.Signal.Backpressure == "drop" {
		policy = app.LenientPolicy{}
	}

	rooms := app.NewRoomManager(reg, engine, core.AudioLevelOptions{
		MaxEntries: cfg.Observer.MaxEntries,
		Threshold:  cfg.Observer.Threshold,
		Interval:   cfg.Observer.Interval,
	})
	o := orch.New(reg, rooms, gateway, policy, m, orch.Options{
		NotifyAllMembers: cfg.Signal.NotifyAllMembers,
		ReplayOnJoin:     cfg.Signal.ReplayOnJoin,
	})
	ctl := signaling.NewSignalWSController(o, m, signaling.Config{
		SendBuffer:     cfg.Signal.SendBuffer,
		InboxSize:      cfg.Signal.InboxSize,
		RequestTimeout: cfg.Signal.RequestTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		MaxMessageSize: cfg.Signal.ReadLimit,
		PingPeriod:     cfg.Signal.PingPeriod,
		RateLimit:      cfg.Signal.RateLimit,
		RateInterval:   cfg.Signal.RateInterval,
	})

	r := router.SetupRouter(ctx, cfg, o, ctl, promReg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("voicehub server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-engine.Done():
		// Every router is gone with the engine; nothing can be recovered.
		log.Error().Err(engine.Err()).Msg("media engine died")
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Reset()
	if err := engine.Close(); err != nil {
		log.Error().Err(err).Msg("engine close")
	}
	log.Info().Msg("Server exited gracefully")
	return runErr
}

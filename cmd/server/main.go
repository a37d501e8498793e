package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/confreg/internal/application"
	"github.com/eugenenazirov/confreg/internal/config"
	"github.com/eugenenazirov/confreg/internal/logging"
	"github.com/eugenenazirov/confreg/internal/registry"
)

var signalNotify = signal.Notify

func main() {
	kingpinApp := kingpin.New("confreg", "Compiler configuration registry - typed, overridable, serializable settings")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	snapshotFile := kingpinApp.Flag("snapshot", "JSON or YAML snapshot applied at startup").String()
	ignoreUnknown := kingpinApp.Flag("ignore-unknown", "Skip snapshot entries that name unregistered settings").Bool()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	serveCmd := kingpinApp.Command("serve", "Serve the configuration API").Default()
	dumpCmd := kingpinApp.Command("dump", "Print every setting as a snapshot")
	dumpFormat := dumpCmd.Flag("format", "Output format").Default("json").Enum("json", "yaml")
	explainCmd := kingpinApp.Command("explain", "Explain where settings got their values")
	explainNames := explainCmd.Arg("setting", "Qualified setting names (namespace.setting); all when omitted").Strings()

	command := kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
	}

	if *port != "" {
		overrides.Port = port
	}

	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}

	if *snapshotFile != "" {
		overrides.SnapshotFile = snapshotFile
	}

	if *ignoreUnknown {
		overrides.IgnoreUnknown = ignoreUnknown
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch command {
	case serveCmd.FullCommand():
		serve(cfg, logger)
	case dumpCmd.FullCommand():
		reg, _, err := application.NewRegistry(cfg, logger)
		if err != nil {
			logger.Fatal("failed to initialize registry", zap.Error(err))
		}
		if err := dump(os.Stdout, reg, *dumpFormat); err != nil {
			logger.Fatal("dump failed", zap.Error(err))
		}
	case explainCmd.FullCommand():
		reg, _, err := application.NewRegistry(cfg, logger)
		if err != nil {
			logger.Fatal("failed to initialize registry", zap.Error(err))
		}
		if err := explain(os.Stdout, reg, *explainNames); err != nil {
			logger.Fatal("explain failed", zap.Error(err))
		}
	}
}

func serve(cfg config.Config, logger *zap.Logger) {
	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
}

// dump writes the registry's current snapshot as JSON or YAML.
func dump(w io.Writer, reg *registry.Registry, format string) error {
	snap := reg.Save()
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// explain writes one provenance line per setting.
func explain(w io.Writer, reg *registry.Registry, names []string) error {
	if len(names) == 0 {
		names = reg.Save().Names()
	}
	for _, name := range names {
		prov, err := reg.Provenance(name)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, prov.String()); err != nil {
			return err
		}
	}
	return nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}

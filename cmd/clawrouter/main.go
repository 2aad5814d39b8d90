package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/clawrouter/internal/api"
	"github.com/clawinfra/clawrouter/internal/catalog"
	"github.com/clawinfra/clawrouter/internal/config"
	"github.com/clawinfra/clawrouter/internal/maintenance"
	"github.com/clawinfra/clawrouter/internal/payments"
	"github.com/clawinfra/clawrouter/internal/router"
	"github.com/clawinfra/clawrouter/internal/telemetry"
	"github.com/clawinfra/clawrouter/internal/upstream"
	"github.com/clawinfra/clawrouter/internal/usage"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Subcommands take the first non-flag argument.
	if len(os.Args) > 1 && os.Args[1][0] != '-' {
		switch os.Args[1] {
		case "init":
			return initCommand(os.Args[2:])
		case "token":
			return tokenCommand(os.Args[2:])
		case "start":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
			fmt.Fprintln(os.Stderr, "Available commands: init, start, token")
			return 1
		}
	}

	fs := flag.NewFlagSet("clawrouter", flag.ExitOnError)
	configPath := fs.String("config", "clawrouter.json", "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("ClawRouter v%s (built %s)\n", version, buildTime)
		fmt.Println("Local LLM request router for aggregator APIs")
		return 0
	}

	if err := serve(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// initCommand writes a default config file.
func initCommand(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "clawrouter.json", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*configPath); err == nil {
		fmt.Fprintf(os.Stderr, "%s already exists\n", *configPath)
		return 1
	}
	if err := config.Default().Save(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", *configPath)
	return 0
}

// tokenCommand mints an admin JWT from the configured secret.
func tokenCommand(args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "clawrouter.json", "Path to config file")
	subject := fs.String("subject", "admin", "Token subject")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "auth.jwtSecret is not configured")
		return 1
	}
	ttl := time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	token, err := api.GenerateToken(*subject, []byte(cfg.Auth.JWTSecret), ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	logger.Info("starting ClawRouter", "version", version, "config", configPath)

	// Model catalog, optionally overridden from disk.
	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		cat, err = catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}
	}

	// Keyword overrides feed the classifier through the scoring config.
	if cfg.KeywordsPath != "" {
		ks, err := router.LoadKeywords(cfg.KeywordsPath)
		if err != nil {
			return err
		}
		cfg.Routing.Scoring.Keywords = ks
	}

	engine, err := router.NewEngine(cfg.Routing, cat, logger)
	if err != nil {
		return err
	}

	var authorizer payments.Authorizer = payments.Disabled{}
	if cfg.Payments.Enabled {
		authorizer, err = payments.NewKeccakSigner(cfg.Payments.PrivateKeyHex, logger)
		if err != nil {
			return err
		}
	}

	client := upstream.New(
		cfg.Upstream.BaseURL,
		cfg.Upstream.APIKey,
		time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second,
		authorizer,
		logger,
	)

	var usageLog api.UsageLog
	var usageStore *usage.Store
	if cfg.Usage.Enabled {
		usageStore, err = usage.Open(cfg.UsagePath(), logger)
		if err != nil {
			return err
		}
		defer usageStore.Close()
		usageLog = usageStore
	}

	var publisher telemetry.Publisher = telemetry.Disabled{}
	if cfg.Telemetry.Enabled {
		publisher, err = telemetry.New(telemetry.Options{
			BrokerURL:   cfg.Telemetry.BrokerURL,
			ClientID:    cfg.Telemetry.ClientID,
			Username:    cfg.Telemetry.Username,
			Password:    cfg.Telemetry.Password,
			TopicPrefix: cfg.Telemetry.TopicPrefix,
		}, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	var pruner maintenance.Pruner
	if usageStore != nil {
		pruner = usageStore
	}
	runner, err := maintenance.New(cfg.Maintenance.Schedule, engine, pruner, logger)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Options{
		Port:      cfg.Server.Port,
		Engine:    engine,
		Upstream:  client,
		Usage:     usageLog,
		Telemetry: publisher,
		Catalog:   cat,
		JWTSecret: cfg.Auth.JWTSecret,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return runner.Start(gctx) })

	logger.Info("ClawRouter ready", "port", cfg.Server.Port)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("ClawRouter stopped")
	return nil
}

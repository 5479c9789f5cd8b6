package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/padi-code/internal/api"
	"github.com/RichardoC/padi-code/internal/config"
	"github.com/RichardoC/padi-code/internal/db"
	"github.com/RichardoC/padi-code/internal/llm"
	"github.com/RichardoC/padi-code/internal/logging"
)

const defaultConfigPath = "padi.yaml"

func usage() {
	fmt.Println("Usage: server <command> [-config FILE]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve           Start the chat server (default)")
	fmt.Println("  seed            Insert sample conversations")
	fmt.Println("  check-db        Check the database connection")
	fmt.Println("  ask <prompt>    Send one prompt to the agent and print the answer")
}

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx, args)
	case "seed":
		err = runSeed(ctx, args)
	case "check-db":
		err = runCheckDB(ctx, args)
	case "ask":
		err = runAsk(ctx, args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup parses the command's flags and loads the config and logger.
func setup(name string, args []string) (*config.Config, *zap.Logger, []string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := os.Getenv("PADI_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	fs.StringVar(&path, "config", path, "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, logger, fs.Args(), nil
}

func runServe(ctx context.Context, args []string) (err error) {
	cfg, logger, _, err := setup("serve", args)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := db.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	gateway, err := llm.New(cfg.Agent, logger)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(store, gateway, cfg.Agent.Timeout, logger.With(zap.String("component", "api")))
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(cfg.Server, handler, logger.With(zap.String("component", "http"))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Agent:    %s (%s)\n\n", cfg.Agent.Provider, cfg.Agent.Model)

	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", cfg.Server.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func runSeed(ctx context.Context, args []string) (err error) {
	cfg, logger, _, err := setup("seed", args)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := db.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	convs, err := db.Seed(ctx, store)
	if err != nil {
		return fmt.Errorf("seeding: %w", err)
	}
	for _, c := range convs {
		color.New(color.FgGreen).Print("    ✓ ")
		fmt.Printf("%s  %s\n", c.ID, c.Title)
	}
	fmt.Printf("\nCreated %d conversations\n", len(convs))
	return nil
}

func runCheckDB(ctx context.Context, args []string) (err error) {
	cfg, logger, _, err := setup("check-db", args)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := db.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	convs, err := store.ListConversations(pingCtx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	color.New(color.FgGreen).Print("    ✓ ")
	fmt.Printf("Connected to %s, %d conversations\n", cfg.Database.Driver, len(convs))
	return nil
}

func runAsk(ctx context.Context, args []string) error {
	cfg, logger, rest, err := setup("ask", args)
	if err != nil {
		return err
	}
	defer logger.Sync()

	prompt := strings.TrimSpace(strings.Join(rest, " "))
	if prompt == "" {
		return errors.New("usage: server ask [-config FILE] <prompt>")
	}

	gateway, err := llm.New(cfg.Agent, logger)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Agent.Timeout)
	defer cancel()
	err = gateway.Stream(ctx, prompt, func(chunk string) error {
		_, err := fmt.Print(chunk)
		return err
	})
	fmt.Println()
	return err
}

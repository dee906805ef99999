package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/rapidworks/expertdesk/internal/app"
	"github.com/rapidworks/expertdesk/internal/auth"
	"github.com/rapidworks/expertdesk/internal/bootstrap"
	"github.com/rapidworks/expertdesk/internal/credential"
	"github.com/rapidworks/expertdesk/internal/logging"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/theme"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", model.DefaultConfigPath(), "path to config.yaml")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the config")
	email := pflag.StringP("email", "e", os.Getenv("EXPERTDESK_EMAIL"), "your email address")
	name := pflag.StringP("name", "n", os.Getenv("EXPERTDESK_NAME"), "your display name")
	dbPath := pflag.String("db", "", "SQLite database path (overrides store.path)")
	pflag.Parse()

	if *email == "" {
		return errors.New("--email (or EXPERTDESK_EMAIL) is required")
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", *envFile, err)
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *dbPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = *dbPath
	}

	// The terminal owns stdout, so logs only ever go to the file.
	log, logCloser, err := logging.Setup(cfg.Log.Env, cfg.Log.Path, io.Discard)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := credential.Fill(cfg, nil); err != nil {
		log.WithError(err).Warn("reading secrets from keyring")
	}
	if err := theme.Use(cfg.Display.Theme); err != nil {
		log.WithError(err).Warn("falling back to the default theme")
	}

	principal := auth.ResolvePrincipal(cfg.Auth, *email, *name, "")
	log = log.WithField("user", principal.Email)
	log.WithField("role", principal.Role).Info("session started")

	ctx := context.Background()
	deps, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			log.WithError(err).Warn("closing dependencies")
		}
	}()

	m := app.New(deps.Service, deps.Watcher, principal, cfg.Experts)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("running terminal ui: %w", err)
	}
	return nil
}

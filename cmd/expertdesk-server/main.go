package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/rapidworks/expertdesk/internal/api"
	"github.com/rapidworks/expertdesk/internal/auth"
	"github.com/rapidworks/expertdesk/internal/bootstrap"
	"github.com/rapidworks/expertdesk/internal/credential"
	"github.com/rapidworks/expertdesk/internal/logging"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/server"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			os.Exit(runToken(os.Args[2:]))
		case "secret":
			os.Exit(runSecret(os.Args[2:]))
		}
	}
	os.Exit(runServer(os.Args[1:]))
}

// loadConfig reads the optional .env file, the YAML config and the keyring.
func loadConfig(envFile, configPath string) (*model.AppConfig, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if err := credential.Fill(cfg, nil); err != nil {
		// Headless hosts usually have no keyring; env vars cover them.
		fmt.Fprintf(os.Stderr, "keyring unavailable: %v\n", err)
	}
	return cfg, nil
}

func runServer(args []string) int {
	flags := pflag.NewFlagSet("expertdesk-server", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", model.DefaultConfigPath(), "path to config.yaml")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the config")
	_ = flags.Parse(args)

	cfg, err := loadConfig(*envFile, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, logCloser, err := logging.Setup(cfg.Log.Env, cfg.Log.Path, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logCloser.Close()

	tokens, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		log.WithError(err).Error("configuring auth")
		return 1
	}

	deps, err := bootstrap.Open(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Error("starting")
		return 1
	}

	router := api.NewRouter(deps.Service, tokens, cfg.FindExpert, log)
	srv := server.New(cfg.Server, router, deps.Watcher, log)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(context.Background()) }()

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second
	wait := gfshutdown.GracefulShutdown(context.Background(), timeout, map[string]gfshutdown.Operation{
		"expertdesk": func(ctx context.Context) error {
			log.Info("shutting down")
			return errors.Join(srv.Shutdown(ctx), deps.Close(ctx))
		},
	})

	select {
	case code := <-wait:
		log.WithField("code", code).Info("stopped")
		return code
	case err := <-runErr:
		if err != nil {
			log.WithError(err).Error("server failed")
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if cerr := deps.Close(ctx); cerr != nil {
			log.WithError(cerr).Warn("closing dependencies")
		}
		return 1
	}
}

// runToken prints a session token for an email. Operators hand these to
// browser clients until an identity provider is wired in.
func runToken(args []string) int {
	flags := pflag.NewFlagSet("expertdesk-server token", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", model.DefaultConfigPath(), "path to config.yaml")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the config")
	email := flags.String("email", "", "email of the session owner")
	name := flags.String("name", "", "display name")
	userID := flags.String("user-id", "", "stable user id (derived from the email when empty)")
	_ = flags.Parse(args)

	if *email == "" {
		fmt.Fprintln(os.Stderr, "--email is required")
		return 2
	}

	cfg, err := loadConfig(*envFile, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	tokens, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	p := tokens.Resolve(*email, *name, *userID)
	token, err := tokens.GenerateToken(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fmt.Fprintf(os.Stderr, "%s <%s> as %s\n", p.Name, p.Email, p.Role)
	fmt.Println(token)
	return 0
}

// runSecret stores or removes a keyring secret:
//
//	expertdesk-server secret set jwt-secret < secret.txt
//	expertdesk-server secret delete smtp-password
func runSecret(args []string) int {
	if len(args) != 2 || !credential.Known(args[1]) {
		fmt.Fprintf(os.Stderr, "usage: expertdesk-server secret set|delete <%s|%s|%s|%s>\n",
			credential.KeyJWTSecret, credential.KeySMTPPassword, credential.KeyS3SecretKey, credential.KeyTeamsWebhookURL)
		return 2
	}
	action, key := args[0], args[1]

	switch action {
	case "set":
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading secret from stdin: %v\n", err)
			return 1
		}
		value := strings.TrimSpace(string(raw))
		if value == "" {
			fmt.Fprintln(os.Stderr, "empty secret on stdin")
			return 2
		}
		if err := credential.Set(key, value); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	case "delete":
		if err := credential.Delete(key); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown secret action %q\n", action)
		return 2
	}
	return 0
}

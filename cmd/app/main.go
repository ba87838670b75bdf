package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/margin/internal"
	pkgconfig "github.com/starford/margin/pkg/config"
)

var version = "dev"

const defaultBunkerTimeout = 30 * time.Second

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Info("config file not found, using defaults", slog.String("path", configPath))
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func login(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var pk string
	switch {
	case cmd.String("nsec") != "":
		pk, err = internal.LoginKey(cfg, cmd.String("nsec"))
	case cmd.String("bunker") != "":
		ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
		defer cancel()
		pk, err = internal.LoginBunker(ctx, cfg, cmd.String("bunker"))
	default:
		return errors.New("one of --nsec or --bunker is required")
	}
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "signed in as %s\n", pk)
	return nil
}

func logout(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Logout(cfg); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	fmt.Fprintln(cmd.Root().Writer, "signed out")
	return nil
}

func keygen(_ context.Context, cmd *cli.Command) error {
	kp, err := internal.GenerateKey()
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	fmt.Fprintf(w, "secret: %s\n", kp.SecretHex)
	fmt.Fprintf(w, "nsec:   %s\n", kp.Nsec)
	fmt.Fprintf(w, "public: %s\n", kp.PublicHex)
	fmt.Fprintf(w, "npub:   %s\n", kp.Npub)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "margin",
		Usage:   "Web annotations on Nostr: highlights, page notes and threaded replies",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
			},
			{
				Name:  "login",
				Usage: "Store a signing key or connect a remote signer",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "nsec",
						Usage:   "Secret key as nsec or hex",
						Sources: cli.EnvVars("MARGIN_NSEC"),
					},
					&cli.StringFlag{
						Name:  "bunker",
						Usage: "bunker:// connection string of a remote signer",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the remote signer",
						Value: defaultBunkerTimeout,
					},
				},
				Action: login,
			},
			{
				Name:   "logout",
				Usage:  "Forget stored key material",
				Action: logout,
			},
			{
				Name:   "keygen",
				Usage:  "Generate a new key pair",
				Action: keygen,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

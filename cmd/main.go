package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"calbuffer/internal/config"
	"calbuffer/internal/google"
	"calbuffer/internal/icloud"
	"calbuffer/internal/logging"
	"calbuffer/internal/metrics"
	"calbuffer/internal/reconciler"
	"calbuffer/internal/schedule"
	"calbuffer/internal/state"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "calbuffer",
		Usage: "Keep preparation and wrap-up buffer events around qualifying meetings.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "calbuffer.yaml", Usage: "Path to the YAML config file.", EnvVars: []string{"CALBUFFER_CONFIG"}},
		},
		Commands: []*cli.Command{
			authCommand(),
			runCommand(),
			ignoreCommand(),
			unignoreCommand(),
			clearStateCommand(),
			clearBuffersCommand(),
			configCommand(),
		},
	}
}

// loadConfig reads the config file, applies the environment and validates.
func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(os.Stderr, cfg.LogLevel), nil
}

func reconcilerOptions(cfg *config.Config) reconciler.Options {
	return reconciler.Options{
		AllowedOrganizers: cfg.AllowedOrganizers,
		MinDuration:       cfg.MinDuration,
		PreWindow:         cfg.PreWindow,
		PostWindow:        cfg.PostWindow,
		ScanLookback:      cfg.ScanLookback,
		ScanLookahead:     cfg.ScanLookahead,
		PreColor:          cfg.PreColor,
		PostColor:         cfg.PostColor,
	}
}

// newCalendar connects to the configured calendar backend.
func newCalendar(ctx context.Context, cfg *config.Config, logger *slog.Logger) (reconciler.Calendar, error) {
	switch cfg.Backend {
	case config.BackendCalDAV:
		cal, err := icloud.NewClient(ctx, logger, cfg.CalDAV.Endpoint, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.CalendarName)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		return cal, nil
	default:
		cal, err := google.NewClient(ctx, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.Account, cfg.CalendarID)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client: %w%s", err, accountHint(cfg.Google.Account))
		}
		return cal, nil
	}
}

// accountHint lists the accounts that do have tokens when account has none.
func accountHint(account string) string {
	accounts, err := google.GetTokenAccounts(".")
	if err != nil || len(accounts) == 0 {
		return ""
	}
	return fmt.Sprintf(" (token for account %q not usable; found tokens for: %s)", account, strings.Join(accounts, ", "))
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Usage: "Name to save the token under (defaults to google.account from the config)."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.ApplyEnv(os.Getenv)
			logger := logging.New(os.Stderr, cfg.LogLevel)
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.Google.ClientID, cfg.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			accountName := c.String("account")
			if accountName == "" {
				accountName = cfg.Google.Account
			}
			tokenFile := google.TokenFile(accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Reconcile buffer events on a schedule.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run a single cycle and exit."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would change without touching the calendar or the state."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			props, err := state.Open(cfg.StateBackend, cfg.StatePath)
			if err != nil {
				return fmt.Errorf("failed to open state: %w", err)
			}
			var store state.Store = props
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close state", logging.Err(err))
				}
			}()

			cal, err := newCalendar(ctx, cfg, logger)
			if err != nil {
				return err
			}

			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
				store = state.NewOverlay(props)
				cal = reconciler.NewDryRunCalendar(cal, logger)
			}

			m := metrics.New()
			if cfg.MetricsAddr != "" {
				srv, err := metrics.NewServer(cfg.MetricsAddr, m, logger)
				if err != nil {
					return err
				}
				go func() {
					if err := srv.Start(); err != nil {
						logger.Error("Metrics server failed", logging.Err(err))
					}
				}()
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					_ = srv.Shutdown(sctx)
				}()
			}

			r := reconciler.New(logger, cal, store, reconcilerOptions(cfg), m)

			if c.Bool("once") {
				logger.Info("Running a single cycle.")
				if _, err := r.RunCycle(ctx, time.Now()); err != nil {
					return fmt.Errorf("cycle failed: %w", err)
				}
				return nil
			}

			cycle := func() {
				if _, err := r.RunCycle(ctx, time.Now()); err != nil {
					logger.Error("Cycle failed", logging.Err(err))
				}
			}

			return serve(ctx, logger, cfg.Schedule, cycle)
		},
	}
}

// serve runs cycle once right away and then on spec until ctx is done.
func serve(ctx context.Context, logger *slog.Logger, spec string, cycle func()) error {
	sched := schedule.New(logger)
	if _, err := sched.Ensure(spec, cycle); err != nil {
		return err
	}
	cycle()
	sched.Start()
	logger.Info("Scheduler started.", "schedule", spec)

	<-ctx.Done()
	logger.Info("Shutting down.")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// withStateOnly runs fn with a reconciler that only needs the state store.
func withStateOnly(c *cli.Context, fn func(r *reconciler.Reconciler) error) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	props, err := state.Open(cfg.StateBackend, cfg.StatePath)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	defer props.Close()

	return fn(reconciler.New(logger, nil, props, reconcilerOptions(cfg), nil))
}

func eventIDArg(c *cli.Context) (string, error) {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return "", fmt.Errorf("an event id is required")
	}
	return id, nil
}

func ignoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "ignore",
		Usage:     "Stop maintaining buffers for an event.",
		ArgsUsage: "<event-id>",
		Action: func(c *cli.Context) error {
			id, err := eventIDArg(c)
			if err != nil {
				return err
			}
			return withStateOnly(c, func(r *reconciler.Reconciler) error { return r.Ignore(id) })
		},
	}
}

func unignoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "unignore",
		Usage:     "Resume maintaining buffers for an event.",
		ArgsUsage: "<event-id>",
		Action: func(c *cli.Context) error {
			id, err := eventIDArg(c)
			if err != nil {
				return err
			}
			return withStateOnly(c, func(r *reconciler.Reconciler) error { return r.Unignore(id) })
		},
	}
}

func clearStateCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear-state",
		Usage: "Forget every tracked event and ignore marker.",
		Action: func(c *cli.Context) error {
			return withStateOnly(c, func(r *reconciler.Reconciler) error { return r.ClearState() })
		},
	}
}

func clearBuffersCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear-buffers",
		Usage: "Delete every buffer event from now to the end of the lookahead.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			cal, err := newCalendar(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			r := reconciler.New(logger, cal, state.NewMemory(), reconcilerOptions(cfg), nil)
			n, err := r.ClearBuffers(c.Context, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d buffer events.\n", n)
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the config file.",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write the default config file.",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file."},
				},
				Action: func(c *cli.Context) error {
					path := c.String("config")
					if _, err := os.Stat(path); err == nil && !c.Bool("force") {
						return fmt.Errorf("%s already exists, use --force to overwrite", path)
					}
					if err := config.Save(path, config.DefaultConfig()); err != nil {
						return fmt.Errorf("failed to write config: %w", err)
					}
					fmt.Printf("Wrote %s\n", path)
					return nil
				},
			},
		},
	}
}

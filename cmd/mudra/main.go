package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/auth"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/recognizer"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
                      _
  _ __ ___  _   _  __| |_ __ __ _
 | '_ ' _ \| | | |/ _' | '__/ _' |
 | | | | | | |_| | (_| | | | (_| |
 |_| |_| |_|\__,_|\__,_|_|  \__,_|
`

// defaultConfigPath returns MUDRA_CONFIG when set, otherwise mudra.yaml in
// the working directory.
func defaultConfigPath() string {
	if p := os.Getenv("MUDRA_CONFIG"); p != "" {
		return p
	}
	return "mudra.yaml"
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mudra",
		Short:         "Real-time sign language recognition server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the recognition server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write a default config file with a fresh JWT secret",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runInit(configPath)
			},
		},
		newHealthCmd(&configPath),
	)
	return root
}

func newHealthCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				addr = cfg.Server.HTTPAddr
			}
			return runHealth(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "server address (default: server.http_addr from config)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	labels, err := cfg.LoadLabels()
	if err != nil {
		return fmt.Errorf("loading labels: %w", err)
	}

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	clf, loader, err := buildClassifier(ctx, cfg, labels, st, logger)
	if err != nil {
		return err
	}

	det := buildDetector(cfg, logger)
	defer det.Close()

	engine := recognizer.New(
		cfg.EngineConfig(),
		frame.NewFeatureDecoder(det, cfg.Recognizer.NormalizeLandmarks),
		clf,
		labels,
		recognizer.WithLogger(logger.With("component", "recognizer")),
	)

	tokens, err := auth.NewTokens([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token signer: %w", err)
	}

	if err := ensureAdmin(ctx, cfg.Auth, st, logger); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", st.Path())
	green.Print("    ▶ ")
	fmt.Printf("Classifier: %s ", cfg.Classifier.Backend)
	gray.Printf("(%d labels)\n", len(labels))
	fmt.Println()

	srv := server.New(server.Config{
		StaticDir:      cfg.Server.StaticDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Engine:         engine,
		Store:          st,
		Tokens:         tokens,
		TemplateLoader: loader,
		Logger:         logger.With("component", "http"),
	})

	logger.Info("starting mudra", "http_addr", cfg.Server.HTTPAddr, "classifier", cfg.Classifier.Backend)
	if err := srv.ListenAndServe(ctx, cfg.Server.HTTPAddr); err != nil {
		return fmt.Errorf("serving http: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// buildClassifier returns the configured backend. For the template backend
// it also returns the loader that template edits must refresh.
func buildClassifier(ctx context.Context, cfg *config.Config, labels classifier.Labels, st *store.Store, logger *slog.Logger) (classifier.Classifier, api.TemplateLoader, error) {
	switch cfg.Classifier.Backend {
	case config.BackendTemplate:
		tc := classifier.NewTemplateClassifier(labels, cfg.Classifier.TemplateTemperature)
		n, err := api.ReloadTemplates(ctx, st, tc)
		if err != nil {
			return nil, nil, err
		}
		if n == 0 {
			logger.Warn("template classifier has no templates; every frame will report an inference error until some are added")
		}
		return tc, tc, nil
	default:
		return classifier.NewHTTPClassifier(cfg.Classifier.URL, cfg.Classifier.Model, len(labels), cfg.Classifier.Timeout), nil, nil
	}
}

// buildDetector starts the MediaPipe detector, falling back to a detector
// that never sees a hand when the service script is missing.
func buildDetector(cfg *config.Config, logger *slog.Logger) detector.Detector {
	det, err := detector.NewMediaPipeDetector(cfg.DetectorOptions(), logger)
	if err != nil {
		logger.Warn("hand detector unavailable, no hands will be detected", "error", err)
		return detector.NewMockDetector()
	}
	return det
}

func ensureAdmin(ctx context.Context, ac config.AuthConfig, st *store.Store, logger *slog.Logger) error {
	if ac.AdminEmail == "" {
		return nil
	}

	hash, err := auth.HashPassword(ac.AdminPassword)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	created, err := st.Users().EnsureAdmin(ctx, ac.AdminName, ac.AdminEmail, hash)
	if err != nil {
		return fmt.Errorf("creating admin account: %w", err)
	}
	if created {
		logger.Info("created admin account", "email", ac.AdminEmail)
	}
	return nil
}

func runInit(configPath string) error {
	if err := config.WriteDefault(configPath); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Wrote %s\n", configPath)
	color.New(color.FgHiBlack).Println("  Edit classifier.url or set classifier.backend: template, then run: mudra serve")
	return nil
}

func runHealth(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

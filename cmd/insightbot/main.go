package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"insightbot/internal/config"
	"insightbot/internal/memory"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "insightbot",
		Short: "InsightBot: natural-language answers over GA4 analytics and SEO crawl data",
		Long: `InsightBot routes questions to an analytics agent (GA4 Data API), an SEO agent
(crawl spreadsheet), or both, and answers through an HTTP API or Telegram.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.insightbot/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(askCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file. Without --config and without a file at
// the default path, the built-in defaults are used with environment
// placeholders resolved. The process logger is rebuilt from the result.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if configPath != "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg, err = config.FromEnv()
		if err != nil {
			return nil, err
		}
		logger = newLogger(cfg.General)
		logger.Debug("no config file, using defaults and environment", "path", path)
		return cfg, nil
	}
	logger = newLogger(cfg.General)
	return cfg, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Set LITELLM_API_KEY (or edit providers) and GOOGLE_APPLICATION_CREDENTIALS, then run 'insightbot serve'.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (and Telegram when enabled)",
		Long:  "Starts POST /query and every enabled channel. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.seo.Available() {
		logger.Warn("SEO data unavailable, SEO questions will get a fixed reply")
	}

	chs := a.channels()
	errCh := make(chan error, len(chs))
	var wg sync.WaitGroup
	for _, ch := range chs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
		}()
		logger.Info("channel enabled", "channel", ch.Name())
	}

	logger.Info("insightbot started. Press Ctrl+C to stop.", "version", version)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("channel failed, shutting down", "err", runErr)
		stop()
	}
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range chs {
			_ = ch.Stop()
		}
		wg.Wait()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		if runErr == nil {
			runErr = errors.New("shutdown timed out")
		}
	}
	return runErr
}

func askCmd() *cobra.Command {
	var propertyID string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if propertyID == "" {
				propertyID = cfg.Analytics.DefaultPropertyID
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Server.RequestTimeoutSeconds)*time.Second)
			defer cancel()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			answer, err := a.service.Ask(ctx, "cli", propertyID, args[0])
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(map[string]any{
					"answer":     answer.Answer,
					"agent_used": answer.AgentUsed,
					"duration":   answer.Result().Duration,
					"data":       answer.Data,
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			fmt.Printf("[%s, %.2fs]\n\n%s\n", answer.AgentUsed, answer.Result().Duration, answer.Answer)
			return nil
		},
	}
	cmd.Flags().StringVarP(&propertyID, "property", "p", "", "GA4 property ID (default: analytics.defaultPropertyId)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response including data as JSON")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently answered queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return errors.New("history is disabled (history.enabled: false)")
			}
			store, err := memory.NewSQLiteStore(cfg.History.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tCHANNEL\tAGENT\tDURATION\tQUERY")
			for _, r := range recs {
				agent := r.AgentUsed
				if r.Error != "" {
					agent = "error"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Local().Format(time.DateTime), r.Channel, agent,
					r.Duration.Round(10*time.Millisecond), truncate(r.Query, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of queries to show")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and query counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "version\t%s\n", version)
			fmt.Fprintf(w, "config\t%s\n", resolveConfigPath())
			fmt.Fprintf(w, "provider\t%s\n", cfg.LLM.DefaultProvider)
			if len(cfg.LLM.FailoverChain) > 0 {
				fmt.Fprintf(w, "failover\t%v\n", cfg.LLM.FailoverChain)
			}
			fmt.Fprintf(w, "models\tfast=%s reasoning=%s\n", cfg.Models.Fast, cfg.Models.Reasoning)
			fmt.Fprintf(w, "listen\t%s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Fprintf(w, "telegram\t%t\n", cfg.Telegram.Enabled)

			if cfg.History.Enabled {
				store, err := memory.NewSQLiteStore(cfg.History.DBPath, logger)
				if err != nil {
					return err
				}
				defer store.Close()
				counts, err := store.CountByAgent(cmd.Context())
				if err != nil {
					return err
				}
				for agent, n := range counts {
					if agent == "" {
						agent = "failed"
					}
					fmt.Fprintf(w, "queries[%s]\t%d\n", agent, n)
				}
			}
			return w.Flush()
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

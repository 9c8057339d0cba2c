package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"insightbot/internal/memory"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your InsightBot installation",
		Long: `Verifies that the configuration, model providers, GA4 credentials, SEO crawl
source, and history database are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("InsightBot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config", err.Error())
				fmt.Printf("\nRun 'insightbot init' to create a default configuration.\n")
				return r.summary()
			}
			r.pass("Config", resolveConfigPath())

			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				detail := p.Kind
				if p.APIBase != "" {
					detail += " @ " + p.APIBase
				}
				r.pass("Provider: "+name, detail)
			}

			if info, err := os.Stat(cfg.Analytics.CredentialsFile); err != nil {
				r.warn("GA4 credentials", fmt.Sprintf("%s: %v (analytics queries will fail)", cfg.Analytics.CredentialsFile, err))
			} else if info.IsDir() {
				r.fail("GA4 credentials", "is a directory: "+cfg.Analytics.CredentialsFile)
			} else {
				r.pass("GA4 credentials", cfg.Analytics.CredentialsFile)
			}
			if cfg.Analytics.DefaultPropertyID == "" {
				r.warn("GA4 property", "no default; requests must carry propertyId")
			} else {
				r.pass("GA4 property", cfg.Analytics.DefaultPropertyID)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if t, err := seoSource(cfg.SEO).Load(ctx); err != nil {
				r.warn("SEO data", err.Error())
			} else if t.Len() == 0 {
				r.warn("SEO data", "crawl export has no rows")
			} else {
				r.pass("SEO data", fmt.Sprintf("%d rows, %d columns", t.Len(), len(t.Columns())))
			}

			if cfg.History.Enabled {
				if err := checkDatabase(cfg.History.DBPath); err != nil {
					r.fail("History database", err.Error())
				} else {
					r.pass("History database", cfg.History.DBPath)
				}
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("HTTP port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("HTTP port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running InsightBot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nInsightBot should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! InsightBot is ready to run.\n")
	}
	return nil
}

// checkDatabase opens the history store, which creates and migrates it.
func checkDatabase(dbPath string) error {
	if dbPath == "" {
		return errors.New("no path configured")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	return store.Close()
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

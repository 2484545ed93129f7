package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"greencycle/internal/config"
	"greencycle/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Greencycle installation",
		Long: `Verifies that the configuration, pickup database, FAQ corpus and
channels are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Greencycle Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'greencycle init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Data directory
			if info, err := os.Stat(cfg.General.DataDir); err != nil {
				printFail("Data directory", fmt.Sprintf("not found: %s", cfg.General.DataDir))
				failed++
			} else if !info.IsDir() {
				printFail("Data directory", fmt.Sprintf("not a directory: %s", cfg.General.DataDir))
				failed++
			} else {
				printPass("Data directory", cfg.General.DataDir)
				passed++
			}

			// 4. Pickup database opens, migrates and answers
			if detail, err := checkDatabase(cfg.Store.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Store.DBPath+" ("+detail+")")
				passed++
			}

			// 5. FAQ corpus
			if m, err := newMatcher(cfg.Chat); err != nil {
				printFail("FAQ corpus", err.Error())
				failed++
			} else if n := len(m.Entries()); n == 0 {
				printWarn("FAQ corpus", "no entries; every question falls through to intent templates")
				warned++
			} else {
				source := cfg.Chat.FAQPath
				if source == "" {
					source = "built-in"
				}
				printPass("FAQ corpus", fmt.Sprintf("%d entries (%s, threshold %.2f)", n, source, m.Threshold()))
				passed++
			}

			// 6. Channels
			if cfg.Channels.Web.Enabled {
				if err := checkPort(cfg.Channels.Web.Host, cfg.Channels.Web.Port); err != nil {
					printWarn("Web port", fmt.Sprintf("port %d may be in use: %v", cfg.Channels.Web.Port, err))
					warned++
				} else {
					printPass("Web port", fmt.Sprintf(":%d available", cfg.Channels.Web.Port))
					passed++
				}
				if cfg.Channels.Web.WebhookSecret == "" {
					printWarn("Pickup webhook", "no webhookSecret; POST /hooks/pickups is disabled")
					warned++
				}
			}
			if cfg.Channels.Telegram.Enabled {
				printPass("Telegram", "token configured")
				passed++
			}
			if !cfg.Channels.Web.Enabled && !cfg.Channels.Telegram.Enabled {
				printWarn("Channels", "none enabled; 'greencycle serve' will refuse to start")
				warned++
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running Greencycle.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nGreencycle should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Greencycle is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens the store (running migrations), pings it and reports
// the schema version and journal mode.
func checkDatabase(dbPath string) (string, error) {
	st, err := store.Open(store.Config{Path: dbPath, Logger: logger})
	if err != nil {
		return "", err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return "", fmt.Errorf("cannot ping: %w", err)
	}
	applied, latest, err := st.SchemaVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot read schema version: %w", err)
	}
	if applied != latest {
		return "", fmt.Errorf("schema v%d, this build expects v%d", applied, latest)
	}
	mode, err := st.JournalMode(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot read journal mode: %w", err)
	}
	return fmt.Sprintf("schema v%d, journal %s", applied, mode), nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

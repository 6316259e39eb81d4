package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"recruitbot/internal/config"
	"recruitbot/internal/memory"
	"recruitbot/internal/provider"
)

// checkResults tallies doctor outcomes.
type checkResults struct {
	passed, warned, failed int
}

func (c *checkResults) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	c.passed++
}

func (c *checkResults) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	c.failed++
}

func (c *checkResults) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	c.warned++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your recruitbot setup",
		Long: `Verifies the configuration, the gateway database and attachment
directory, the responder, and that the chat client can reach its backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("recruitbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var res checkResults

			if _, err := os.Stat(cfgPath); err != nil {
				res.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'recruitbot init' to create a default configuration.\n")
				return fmt.Errorf("config not found")
			}
			res.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				res.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", res.passed, res.failed)
				return fmt.Errorf("invalid config")
			}
			res.pass("Config validation", "valid")

			if cfg.Client.OwnerID == "" {
				res.fail("Owner id", "client.ownerId is empty; chat cannot create conversations")
			} else {
				res.pass("Owner id", cfg.Client.OwnerID)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			api, _ := newClients(cfg)
			if status, err := api.Status(ctx); err != nil {
				res.warn("Backend", fmt.Sprintf("%s unreachable: %v", cfg.Client.BaseURL, err))
			} else {
				res.pass("Backend", fmt.Sprintf("%s (%v)", cfg.Client.BaseURL, status["status"]))
			}

			if err := checkDatabase(ctx, cfg.Gateway.DBPath); err != nil {
				res.fail("Gateway database", err.Error())
			} else {
				res.pass("Gateway database", describeFile(cfg.Gateway.DBPath))
			}

			if err := checkWritableDir(cfg.Gateway.AttachmentDir); err != nil {
				res.fail("Attachment dir", err.Error())
			} else {
				res.pass("Attachment dir", cfg.Gateway.AttachmentDir)
			}

			responder, err := provider.NewFactory(cfg, logger).Gateway()
			switch {
			case err != nil:
				res.fail("Responder", err.Error())
			case responder.Healthy(ctx) != nil:
				res.warn("Responder", responder.Name()+" is not healthy")
			default:
				res.pass("Responder", responder.Name())
			}

			if err := checkPort(cfg.Gateway.Addr()); err != nil {
				res.warn("Gateway port", fmt.Sprintf("%s may be in use: %v", cfg.Gateway.Addr(), err))
			} else {
				res.pass("Gateway port", cfg.Gateway.Addr()+" available")
			}

			if cfg.General.LogFile != "" {
				if err := checkWritableDir(filepath.Dir(cfg.General.LogFile)); err != nil {
					res.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					res.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", res.passed, res.warned, res.failed)
			if res.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running recruitbot.\n")
				return fmt.Errorf("%d check(s) failed", res.failed)
			}
			if res.warned > 0 {
				fmt.Printf("\nrecruitbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! recruitbot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens (and migrates) the gateway database and pings it.
func checkDatabase(ctx context.Context, dbPath string) error {
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	return nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func describeFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path
	}
	return fmt.Sprintf("%s (%s)", path, humanize.Bytes(uint64(info.Size())))
}

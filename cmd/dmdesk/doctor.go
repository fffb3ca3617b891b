package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"dmdesk/internal/config"
	"dmdesk/internal/session"

	"github.com/spf13/cobra"
)

// checkTally counts doctor results.
type checkTally struct {
	passed, warned, failed int
}

func (t *checkTally) pass(check, detail string) {
	t.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (t *checkTally) fail(check, detail string) {
	t.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (t *checkTally) warn(check, detail string) {
	t.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the dmdesk installation",
		Long: `Verifies the configuration, session store, listen port, Unipile gateway
and AI providers. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("dmdesk doctor v%s\n\n", version)

			var t checkTally

			if _, err := os.Stat(cfgPath); err != nil {
				t.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'dmdesk init' or 'dmdesk setup' to create a configuration.\n")
				return fmt.Errorf("no config")
			}
			t.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				t.fail("Config validation", err.Error())
				return fmt.Errorf("invalid config")
			}
			t.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			where := cfg.Session.Dir
			if cfg.Session.Backend == "sqlite" {
				where = cfg.Session.DBPath
			}
			if err := checkSessionStore(ctx, cfg.Session); err != nil {
				t.fail("Session store", err.Error())
			} else {
				t.pass("Session store", fmt.Sprintf("%s (%s)", where, cfg.Session.Backend))
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				t.warn("Listen port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				t.pass("Listen port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			switch {
			case cfg.Gateway.DSN == "" || cfg.Gateway.APIKey == "":
				t.fail("Gateway", "gateway.dsn and gateway.apiKey are required")
			default:
				if err := newGateway(cfg).Healthy(ctx); err != nil {
					t.warn("Gateway", fmt.Sprintf("%s unreachable: %v", cfg.Gateway.BaseURL(), err))
				} else {
					t.pass("Gateway", cfg.Gateway.BaseURL())
				}
			}

			if cfg.Webhook.Secret == "" {
				t.warn("Webhook secret", "not set, signatures are not verified")
			} else {
				t.pass("Webhook secret", "set")
			}

			names := make([]string, 0, len(cfg.Providers))
			for name := range cfg.Providers {
				names = append(names, name)
			}
			sort.Strings(names)
			enabled := 0
			for _, name := range names {
				p := cfg.Providers[name]
				if !p.Enabled {
					continue
				}
				enabled++
				if p.APIKey == "" && name != "ollama" {
					t.warn("Provider: "+name, "enabled but no API key configured")
				} else {
					t.pass("Provider: "+name, "configured")
				}
			}
			if enabled == 0 {
				t.warn("Providers", "none enabled, drafts will be empty")
			}

			if cfg.Notify.Telegram.Enabled && len(cfg.Notify.Telegram.ChatIDs) == 0 {
				t.warn("Telegram", "enabled but notify.telegram.chatIds is empty")
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					t.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					t.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", t.passed, t.warned, t.failed)
			if t.failed > 0 {
				return fmt.Errorf("%d check(s) failed", t.failed)
			}
			return nil
		},
	}
}

// checkSessionStore opens the configured backend and round-trips a probe blob.
func checkSessionStore(ctx context.Context, cfg config.SessionConfig) error {
	store, err := session.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	const probeKey = "doctor-probe"
	probe := []byte(`{"probe":true}`)
	if err := store.Save(ctx, probeKey, probe); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	got, err := store.Load(ctx, probeKey)
	if err != nil {
		return fmt.Errorf("cannot read back: %w", err)
	}
	if !bytes.Equal(got, probe) {
		return fmt.Errorf("read back %d bytes, wrote %d", len(got), len(probe))
	}
	return store.Delete(ctx, probeKey)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.dmdesk.serve"
	systemdUnit  = "dmdesk.service"
)

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install dmdesk serve as a user daemon (launchd/systemd)",
		Long:  "Writes a launchd agent or systemd user unit that runs 'dmdesk serve' with the current config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			path, hint, err := writeServiceFile(runtime.GOOS, execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			fmt.Printf("Daemon installed: %s\n%s", path, hint)
			return nil
		},
	}
}

func uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the dmdesk user daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := serviceFilePath(runtime.GOOS)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", path)
			return nil
		},
	}
}

func serviceFilePath(goos string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

// renderServiceFile fills the launchd or systemd template for goos.
func renderServiceFile(goos, execPath, cfgPath, logDir string) (string, error) {
	var tmpl string
	switch goos {
	case "darwin":
		tmpl = launchdTemplate
	case "linux":
		tmpl = systemdTemplate
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
	r := strings.NewReplacer(
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{LABEL}}", launchdLabel,
		"{{LOG}}", filepath.Join(logDir, "dmdesk.log"),
		"{{ERR_LOG}}", filepath.Join(logDir, "dmdesk-error.log"),
	)
	return r.Replace(tmpl), nil
}

func writeServiceFile(goos, execPath, cfgPath string) (path, hint string, err error) {
	path, err = serviceFilePath(goos)
	if err != nil {
		return "", "", err
	}
	logDir := filepath.Join(filepath.Dir(cfgPath), "logs")
	content, err := renderServiceFile(goos, execPath, cfgPath, logDir)
	if err != nil {
		return "", "", err
	}
	if goos == "darwin" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return "", "", err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", "", err
	}

	if goos == "darwin" {
		hint = fmt.Sprintf("To start: launchctl load %s\nTo stop:  launchctl unload %s\n", path, path)
	} else {
		hint = "To start:  systemctl --user start dmdesk\n" +
			"To enable: systemctl --user enable dmdesk\n" +
			"To stop:   systemctl --user stop dmdesk\n"
	}
	return path, hint, nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=dmdesk Instagram DM dashboard backend
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`

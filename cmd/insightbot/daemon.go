package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.insightbot.serve"
	systemdUnit  = "insightbot.service"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run 'insightbot serve' as a user service (launchd/systemd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write the service file for this OS",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			path, err := servicePath(runtime.GOOS)
			if err != nil {
				return err
			}

			home, _ := os.UserHomeDir()
			unit, err := renderService(runtime.GOOS, serviceParams{
				Label:  launchdLabel,
				Exec:   execPath,
				Config: cfgPath,
				Log:    filepath.Join(home, ".insightbot", "logs", "insightbot.log"),
				ErrLog: filepath.Join(home, ".insightbot", "logs", "insightbot-error.log"),
			})
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Join(home, ".insightbot", "logs"), 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, unit, 0o644); err != nil {
				return err
			}

			fmt.Printf("Service installed: %s\n", path)
			if runtime.GOOS == "darwin" {
				fmt.Printf("To start: launchctl load %s\n", path)
				fmt.Printf("To stop:  launchctl unload %s\n", path)
			} else {
				fmt.Printf("To start:  systemctl --user start insightbot\n")
				fmt.Printf("To enable: systemctl --user enable insightbot\n")
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath(runtime.GOOS)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service uninstalled: %s\n", path)
			return nil
		},
	})
	return cmd
}

type serviceParams struct {
	Label  string
	Exec   string
	Config string
	Log    string
	ErrLog string
}

func servicePath(goos string) (string, error) {
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

func renderService(goos string, p serviceParams) ([]byte, error) {
	var tmpl *template.Template
	switch goos {
	case "darwin":
		tmpl = launchdTemplate
	case "linux":
		tmpl = systemdTemplate
	default:
		return nil, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var launchdTemplate = template.Must(template.New("launchd").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>
`))

var systemdTemplate = template.Must(template.New("systemd").Parse(`[Unit]
Description=InsightBot analytics and SEO query service
After=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} serve --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`))

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/davidhoung2/helpbot/internal/app"
	"github.com/davidhoung2/helpbot/internal/config"
	"github.com/spf13/cobra"
)

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to helpbot config file")
}

// loadConfig reads the config file. Only the default path may be absent.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		cfg, err := config.Parse([]byte("{}"))
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openApp loads the config and builds the application context. Structured
// logs go to the command's stderr.
func openApp(cmd *cobra.Command, configPath string) (*app.App, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(app.Opts{Config: cfg, LogOut: cmd.ErrOrStderr()})
}

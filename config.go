package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk YAML form of Config. All fields are optional;
// values resolve against defaults and environment variables in LoadConfig.
type fileConfig struct {
	AppName    string `yaml:"app_name,omitempty"`
	HubURL     string `yaml:"hub_url,omitempty"`
	Token      string `yaml:"token,omitempty"`
	BundledDir string `yaml:"bundled_dir,omitempty"`
	DataDir    string `yaml:"data_dir,omitempty"`
	CustomDir  string `yaml:"custom_dir,omitempty"`
}

// DefaultConfigPath returns the conventional config file location for
// appName: <default data dir>/config.yaml.
func DefaultConfigPath(appName string) (string, error) {
	dir, err := getDefaultDataDir(appName)
	if err != nil {
		return "", fmt.Errorf("failed to get default data dir: %w", err)
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// LoadConfig builds a Config for appName from an optional YAML file plus
// environment overrides. A missing file is not an error; the returned Config
// then carries defaults only. Environment variables win over file values:
//
//	<APPNAME>_HUB_URL     hub base URL
//	<APPNAME>_HUB_TOKEN   bearer token
//	<APPNAME>_MODELS_DIR  user storage root (consumed by the storage layer)
//
// Pass path="" to use DefaultConfigPath.
func LoadConfig(appName, path string) (Config, error) {
	cfg := Config{AppName: appName}
	if path == "" {
		var err error
		path, err = DefaultConfigPath(appName)
		if err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
		if fc.AppName != "" {
			cfg.AppName = fc.AppName
		}
		cfg.HubURL = fc.HubURL
		cfg.Token = fc.Token
		for _, f := range []struct {
			dst *string
			src string
		}{
			{&cfg.BundledDir, fc.BundledDir},
			{&cfg.DataDir, fc.DataDir},
			{&cfg.CustomDir, fc.CustomDir},
		} {
			if f.src == "" {
				continue
			}
			expanded, err := expandPath(f.src)
			if err != nil {
				return Config{}, err
			}
			*f.dst = expanded
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return Config{}, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	if v := os.Getenv(envVarName(cfg.AppName, "HUB_URL")); v != "" {
		cfg.HubURL = v
	}
	if v := os.Getenv(envVarName(cfg.AppName, "HUB_TOKEN")); v != "" {
		cfg.Token = v
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in YAML form, creating parent directories as
// needed. Pass path="" to use DefaultConfigPath.
func SaveConfig(cfg Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath(cfg.AppName)
		if err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(fileConfig{
		AppName:    cfg.AppName,
		HubURL:     cfg.HubURL,
		Token:      cfg.Token,
		BundledDir: cfg.BundledDir,
		DataDir:    cfg.DataDir,
		CustomDir:  cfg.CustomDir,
	})
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return atomicWrite(path, data)
}

package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/pkg/paths"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// File formats understood by LoadFromBytesFormat.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// Environment variables that override file values.
const (
	EnvAPIURL       = "MERCURE_API_URL"
	EnvRealtimeURL  = "MERCURE_WS_URL"
	EnvPublicOrigin = "MERCURE_PUBLIC_ORIGIN"
	EnvSessionFile  = "MERCURE_SESSION_FILE"
)

var configNames = []string{
	"mercure.yml",
	"mercure.yaml",
	"mercure.toml",
	".mercure.yml",
	".mercure.yaml",
}

var overrideNames = []string{
	"mercure.override.yml",
	"mercure.override.yaml",
	"mercure.override.toml",
}

// Load reads and parses a single configuration file.
func Load(path string) (*Config, error) {
	cfg, err := readLayer(path)
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// LoadDefault loads the configuration for the current directory with
// hierarchical merging:
// 1. Global config (~/.config/mercure/mercure.yml) - base layer
// 2. Project config (mercure.yml, searched upward) - overrides global
// 3. Local override (mercure.override.yml) - overrides all
//
// Every layer is optional; the defaults apply when none exists.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to get current directory")
	}

	return LoadFrom(cwd)
}

// LoadFrom loads configuration with hierarchical merging starting from the given directory
func LoadFrom(startDir string) (*Config, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return LoadFromWithLogger(startDir, logger)
}

// LoadFromWithLogger loads configuration with hierarchical merging and logging
func LoadFromWithLogger(startDir string, logger *logrus.Logger) (*Config, error) {
	finalConfig := &Config{}

	// 1. Global config (optional). A broken global file is not fatal.
	if globalPath := getXDGConfigPath(); globalPath != "" {
		logger.WithField("path", globalPath).Debug("Loading global configuration")
		globalConfig, err := readLayer(globalPath)
		if err != nil {
			logger.WithError(err).Warn("Failed to load global configuration, continuing without it")
		} else {
			finalConfig = globalConfig
		}
	}

	// 2. Project config (optional).
	projectPath, err := FindConfigFile(startDir)
	switch {
	case err == nil:
		logger.WithField("path", projectPath).Debug("Loading project configuration")
		projectConfig, err := readLayer(projectPath)
		if err != nil {
			return nil, err
		}
		logger.Debug("Merging project configuration over global configuration")
		finalConfig = mergeConfigs(finalConfig, projectConfig)
	case errors.Is(err, errors.ErrCodeConfigNotFound):
		logger.WithField("searchPath", startDir).Debug("No project configuration found")
	default:
		return nil, err
	}

	// 3. Overrides next to the project file (optional).
	if projectPath != "" {
		projectDir := filepath.Dir(projectPath)
		for _, name := range overrideNames {
			overridePath := filepath.Join(projectDir, name)
			if _, err := os.Stat(overridePath); err != nil {
				continue
			}
			logger.WithField("path", overridePath).Debug("Loading local override configuration")
			overrideConfig, err := readLayer(overridePath)
			if err != nil {
				logger.WithError(err).Warn("Failed to load override file, skipping")
				continue
			}
			finalConfig = mergeConfigs(finalConfig, overrideConfig)
		}
	}

	cfg, err := finalize(finalConfig)
	if err != nil {
		return nil, err
	}

	logger.Debug("Configuration loaded and validated successfully")

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		configData, err := yaml.Marshal(cfg)
		if err == nil {
			logger.Debugf("Merged configuration:\n%s", string(configData))
		}
	}

	return cfg, nil
}

// LoadFromBytes parses a YAML configuration from a byte array.
func LoadFromBytes(data []byte) (*Config, error) {
	return LoadFromBytesFormat(data, FormatYAML)
}

// LoadFromBytesFormat parses configuration in the given format, applies
// environment overrides and defaults, then validates it.
func LoadFromBytesFormat(data []byte, format string) (*Config, error) {
	cfg, err := parseLayer(data, format)
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// finalize applies env overrides and defaults, then validates.
func finalize(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	cfg, err := parseLayer(data, formatOf(path))
	if err != nil {
		if me, ok := errors.As(err); ok {
			me.WithDetail("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// parseLayer decodes one file without defaults. The raw document is checked
// against the JSON schema before it is decoded into Config.
func parseLayer(data []byte, format string) (*Config, error) {
	expanded := []byte(expandEnvVars(string(data)))

	var doc map[string]interface{}
	var cfg Config

	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(expanded, &doc); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
		}
		if err := toml.Unmarshal(expanded, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
		}
		// go-toml has no inline maps, so unknown tables are copied by hand.
		for key, value := range doc {
			if isCoreKey(key) {
				continue
			}
			if cfg.Extensions == nil {
				cfg.Extensions = make(map[string]interface{})
			}
			cfg.Extensions[key] = value
		}
	default:
		if err := yaml.Unmarshal(expanded, &doc); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
		}
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
		}
	}

	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isCoreKey(key string) bool {
	switch key {
	case "version", "api", "realtime", "avatar", "session":
		return true
	}
	return false
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// FindConfigFile searches from startDir up to the filesystem root for a
// mercure configuration file.
func FindConfigFile(startDir string) (string, error) {
	dir := startDir
	for {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.ConfigNotFound(startDir).WithDetail("searchPath", startDir)
}

// applyEnvOverrides lets deployment environments point the client elsewhere
// without editing files.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(EnvRealtimeURL); v != "" {
		cfg.Realtime.URL = v
	}
	if v := os.Getenv(EnvPublicOrigin); v != "" {
		cfg.Avatar.Origin = v
	}
	if v := os.Getenv(EnvSessionFile); v != "" {
		cfg.Session.Path = v
	}
}

// expandEnvVars replaces ${VAR} with environment variable values
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		// Handle default values: ${VAR:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// getXDGConfigPath returns the first global config file that exists, or "".
func getXDGConfigPath() string {
	dir := paths.ConfigDir()
	if dir == "" {
		return ""
	}
	for _, name := range []string{"mercure.yml", "mercure.yaml", "mercure.toml"} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

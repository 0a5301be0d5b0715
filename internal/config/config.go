package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/tidwall/jsonc"

	"github.com/coderelay/coderelay/pkg/types"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/coderelay/)
// 2. Project config (coderelay.json(c) in the project directory)
// 3. CODERELAY_CONFIG file
// 4. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
	}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	// 1. XDG global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "coderelay.json"))
	loadOnce(filepath.Join(globalPath, "coderelay.jsonc"))

	// 2. Project config
	if directory != "" {
		loadOnce(filepath.Join(directory, "coderelay.json"))
		loadOnce(filepath.Join(directory, "coderelay.jsonc"))
	}

	// 3. CODERELAY_CONFIG file override
	if configPath := os.Getenv("CODERELAY_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	// 4. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with env interpolation support.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} placeholders.
func interpolate(data []byte) []byte {
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(varName)))
	})
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Model != "" {
		target.Model = source.Model
	}

	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}
	if source.Server.Hostname != "" {
		target.Server.Hostname = source.Server.Hostname
	}
	if source.Server.EnableCORS != nil {
		target.Server.EnableCORS = source.Server.EnableCORS
	}
	if source.Server.AuthToken != "" {
		target.Server.AuthToken = source.Server.AuthToken
	}

	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
	}
	if source.Log.Pretty {
		target.Log.Pretty = true
	}

	if len(source.Workspace.Ignore) > 0 {
		target.Workspace.Ignore = append(target.Workspace.Ignore, source.Workspace.Ignore...)
	}
	if source.Workspace.MaxListing != 0 {
		target.Workspace.MaxListing = source.Workspace.MaxListing
	}
	if source.Workspace.MaxFileBytes != 0 {
		target.Workspace.MaxFileBytes = source.Workspace.MaxFileBytes
	}

	// Merge providers
	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	// Provider API keys
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if config.Provider == nil {
				config.Provider = make(map[string]types.ProviderConfig)
			}
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv("CODERELAY_MODEL"); model != "" {
		config.Model = model
	}

	if port := os.Getenv("CODERELAY_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			config.Server.Port = n
		}
	}

	if token := os.Getenv("CODERELAY_AUTH_TOKEN"); token != "" {
		config.Server.AuthToken = token
	}

	if level := os.Getenv("CODERELAY_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

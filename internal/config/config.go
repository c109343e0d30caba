package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/lm-plugin/worker/pkg/types"
)

// configNames are the file names probed in every config directory, lowest
// priority first.
var configNames = []string{"lmworker.json", "lmworker.jsonc", "lmworker.yaml", "lmworker.yml"}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Built-in defaults
// 2. Global config (~/.config/lmworker/)
// 3. Project config (directory and directory/.lmworker/)
// 4. LMWORKER_CONFIG file
// 5. LMWORKER_CONFIG_CONTENT inline JSON
// 6. Environment variables
func Load(directory string) (*types.Config, error) {
	cfg := Default()
	for _, path := range candidateFiles(directory) {
		if err := loadConfigFile(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if content := os.Getenv("LMWORKER_CONFIG_CONTENT"); content != "" {
		var inline types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &inline); err != nil {
			return nil, fmt.Errorf("LMWORKER_CONFIG_CONTENT: %w", err)
		}
		mergeConfig(cfg, &inline)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// candidateFiles lists every file Load reads, lowest priority first. The
// settings watcher watches the same list.
func candidateFiles(directory string) []string {
	var files []string
	seen := make(map[string]bool)
	add := func(dir string) {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			abs, err := filepath.Abs(path)
			if err != nil || seen[abs] {
				continue
			}
			seen[abs] = true
			files = append(files, path)
		}
	}

	add(GetPaths().Config)
	if directory != "" {
		add(directory)
		add(filepath.Join(directory, ".lmworker"))
	}
	if path := os.Getenv("LMWORKER_CONFIG"); path != "" {
		if abs, err := filepath.Abs(path); err == nil && !seen[abs] {
			files = append(files, path)
		}
	}
	return files
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, cfg *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = interpolate(data, filepath.Dir(path))

	var fileConfig types.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fileConfig)
	default:
		err = json.Unmarshal(jsonc.ToJSON(data), &fileConfig)
	}
	if err != nil {
		return err
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}

		// Escape for a JSON string; YAML double-quoted scalars accept the same escapes.
		quoted, _ := json.Marshal(strings.TrimRight(string(content), "\n"))
		return string(quoted[1 : len(quoted)-1])
	})

	return []byte(str)
}

// mergeConfig merges source config into target. Scalars override when set,
// prompts replace the whole list.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	s, t := &source.Settings, &target.Settings
	if s.BaseURL != "" {
		t.BaseURL = s.BaseURL
	}
	if s.Token != "" {
		t.Token = s.Token
	}
	if s.Model != "" {
		t.Model = s.Model
	}
	if s.Lang != "" {
		t.Lang = s.Lang
	}
	if s.MaxTokens != nil {
		v := *s.MaxTokens
		t.MaxTokens = &v
	}
	if len(s.Prompts) > 0 {
		t.Prompts = append([]types.Prompt(nil), s.Prompts...)
	}

	if source.Server.Host != "" {
		target.Server.Host = source.Server.Host
	}
	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}
	if source.Server.EnableCORS != nil {
		v := *source.Server.EnableCORS
		target.Server.EnableCORS = &v
	}

	if source.Storage.Backend != "" {
		target.Storage.Backend = source.Storage.Backend
	}
	if source.Storage.Path != "" {
		target.Storage.Path = source.Storage.Path
	}
	if source.Storage.MaxEntrySize != 0 {
		target.Storage.MaxEntrySize = source.Storage.MaxEntrySize
	}
	if source.Storage.Key != "" {
		target.Storage.Key = source.Storage.Key
	}

	if source.Timing.CoalesceMs != 0 {
		target.Timing.CoalesceMs = source.Timing.CoalesceMs
	}
	if source.Timing.StateMs != 0 {
		target.Timing.StateMs = source.Timing.StateMs
	}
	if source.Timing.PersistMs != 0 {
		target.Timing.PersistMs = source.Timing.PersistMs
	}

	if source.Content.Format != "" {
		target.Content.Format = source.Content.Format
	}
	if source.Content.TimeoutSec != 0 {
		target.Content.TimeoutSec = source.Content.TimeoutSec
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *types.Config) {
	if v := os.Getenv("LMWORKER_BASE_URL"); v != "" {
		cfg.Settings.BaseURL = v
	}
	if v, ok := os.LookupEnv("LMWORKER_TOKEN"); ok {
		cfg.Settings.Token = v
	}
	if v := os.Getenv("LMWORKER_MODEL"); v != "" {
		cfg.Settings.Model = v
	}
	if v := os.Getenv("LMWORKER_LANG"); v != "" {
		cfg.Settings.Lang = v
	}
	if v := os.Getenv("LMWORKER_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Settings.MaxTokens = &n
		}
	}
	if v := os.Getenv("LMWORKER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Save saves the configuration to a file as indented JSON.
func Save(cfg *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

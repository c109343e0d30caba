package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lm-plugin/worker/pkg/types"
)

// isolate points HOME and XDG_CONFIG_HOME at a temp dir and clears every
// LMWORKER_ variable for the duration of the test.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	for _, key := range []string{
		"LMWORKER_CONFIG", "LMWORKER_CONFIG_CONTENT", "LMWORKER_BASE_URL",
		"LMWORKER_TOKEN", "LMWORKER_MODEL", "LMWORKER_LANG",
		"LMWORKER_MAX_TOKENS", "LMWORKER_LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return tmpDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := isolate(t)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.Settings.BaseURL)
	assert.Equal(t, DefaultModel, cfg.Settings.Model)
	assert.Equal(t, DefaultLang, cfg.Settings.Lang)
	assert.Empty(t, cfg.Settings.Token)
	assert.Nil(t, cfg.Settings.MaxTokens)
	require.Len(t, cfg.Settings.Prompts, 3)
	assert.Equal(t, types.PromptSummarise, cfg.Settings.Prompts[0].Name)
	assert.Equal(t, types.PromptCustomContent, cfg.Settings.Prompts[2].Name)
	assert.Contains(t, cfg.Settings.Prompts[0].Prompt, "{lang}")

	assert.Equal(t, DefaultStorageKey, cfg.Storage.Key)
	assert.Equal(t, DefaultMaxEntrySize, cfg.Storage.MaxEntrySize)
	assert.Equal(t, 500, cfg.Timing.StateMs)
	assert.Equal(t, 5000, cfg.Timing.PersistMs)
	require.NotNil(t, cfg.Server.EnableCORS)
	assert.True(t, *cfg.Server.EnableCORS)
}

func TestLoadProjectJSON(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "lmworker.json"), `{
		"settings": {
			"baseUrl": "http://gpu-box:1234/v1/chat/completions",
			"model": "qwen",
			"maxTokens": 512
		},
		"storage": {"backend": "bolt"}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-box:1234/v1/chat/completions", cfg.Settings.BaseURL)
	assert.Equal(t, "qwen", cfg.Settings.Model)
	require.NotNil(t, cfg.Settings.MaxTokens)
	assert.Equal(t, 512, *cfg.Settings.MaxTokens)
	assert.Equal(t, "bolt", cfg.Storage.Backend)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultLang, cfg.Settings.Lang)
	assert.Len(t, cfg.Settings.Prompts, 3)
}

func TestJSONCComments(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, ".lmworker", "lmworker.jsonc"), `{
		// backend
		"settings": {
			"model": "commented", /* inline */
		},
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "commented", cfg.Settings.Model)
}

func TestLoadYAML(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "lmworker.yaml"), `
settings:
  lang: German
  prompts:
    - name: Only
      prompt: "Answer in {lang}."
timing:
  stateMs: 250
`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "German", cfg.Settings.Lang)
	require.Len(t, cfg.Settings.Prompts, 1)
	assert.Equal(t, "Only", cfg.Settings.Prompts[0].Name)
	assert.Equal(t, 250, cfg.Timing.StateMs)
	assert.Equal(t, 5000, cfg.Timing.PersistMs)
}

func TestEnvInterpolation(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("TEST_LM_TOKEN", "interpolated-token")

	writeFile(t, filepath.Join(tmpDir, "lmworker.json"), `{
		"settings": {"token": "{env:TEST_LM_TOKEN}"}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "interpolated-token", cfg.Settings.Token)
}

func TestFileInterpolation(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "prompt.txt"), "Line one\n\"quoted\" line two\n")
	writeFile(t, filepath.Join(tmpDir, ".lmworker", "lmworker.json"), `{
		"settings": {"prompts": [{"name": "FromFile", "prompt": "{file:../prompt.txt}"}]}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	require.Len(t, cfg.Settings.Prompts, 1)
	assert.Equal(t, "Line one\n\"quoted\" line two", cfg.Settings.Prompts[0].Prompt)
}

func TestConfigPrecedence(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, ".config", "lmworker", "lmworker.json"), `{
		"settings": {"model": "global", "lang": "French", "token": "global-token"}
	}`)
	project := filepath.Join(tmpDir, "project")
	writeFile(t, filepath.Join(project, "lmworker.json"), `{
		"settings": {"model": "project"}
	}`)
	explicit := filepath.Join(tmpDir, "explicit.json")
	writeFile(t, explicit, `{"settings": {"lang": "Spanish"}}`)
	t.Setenv("LMWORKER_CONFIG", explicit)
	t.Setenv("LMWORKER_CONFIG_CONTENT", `{"logLevel": "DEBUG"}`)
	t.Setenv("LMWORKER_MAX_TOKENS", "64")

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "project", cfg.Settings.Model)
	assert.Equal(t, "Spanish", cfg.Settings.Lang)
	assert.Equal(t, "global-token", cfg.Settings.Token)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	require.NotNil(t, cfg.Settings.MaxTokens)
	assert.Equal(t, 64, *cfg.Settings.MaxTokens)
}

func TestEnvVarOverride(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "lmworker.json"), `{
		"settings": {"model": "file-model", "token": "file-token"}
	}`)
	t.Setenv("LMWORKER_MODEL", "env-model")
	t.Setenv("LMWORKER_BASE_URL", "http://env:1/v1/chat/completions")
	t.Setenv("LMWORKER_TOKEN", "")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.Settings.Model)
	assert.Equal(t, "http://env:1/v1/chat/completions", cfg.Settings.BaseURL)
	assert.Empty(t, cfg.Settings.Token, "an empty LMWORKER_TOKEN clears the token")
}

func TestInvalidConfig(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "lmworker.json"), `{"settings": `)
	_, err := Load(tmpDir)
	assert.Error(t, err)

	t.Setenv("LMWORKER_CONFIG_CONTENT", `not json`)
	_, err = Load(t.TempDir())
	assert.Error(t, err)
}

func TestConfigSerialization(t *testing.T) {
	tmpDir := isolate(t)

	cfg := Default()
	cfg.Settings.Model = "saved"
	path := filepath.Join(tmpDir, "out", "lmworker.json")
	require.NoError(t, Save(cfg, path))

	project := filepath.Dir(path)
	loaded, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Settings.Model)
	assert.Equal(t, cfg.Settings.Prompts, loaded.Settings.Prompts)
}

func TestGetPaths(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))

	paths := GetPaths()
	assert.Equal(t, filepath.Join(tmpDir, ".config", "lmworker"), paths.Config)
	assert.Equal(t, filepath.Join(tmpDir, "data", "lmworker"), paths.Data)
	assert.Equal(t, filepath.Join(paths.Data, "storage"), paths.StoragePath())
	assert.Equal(t, filepath.Join(paths.Data, "state.db"), paths.BoltPath())
	require.NoError(t, paths.EnsurePaths())
	assert.DirExists(t, paths.State)
}

func TestSourceReload(t *testing.T) {
	tmpDir := isolate(t)
	path := filepath.Join(tmpDir, "lmworker.json")
	writeFile(t, path, `{"settings": {"model": "first"}}`)

	src, err := NewSource(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "first", src.Settings().Model)

	var got []string
	src.OnChange(func(s types.Settings) { got = append(got, s.Model) })

	writeFile(t, path, `{"settings": {"model": "second"}}`)
	require.NoError(t, src.Reload())
	assert.Equal(t, "second", src.Settings().Model)
	assert.Equal(t, []string{"second"}, got)

	// A broken file keeps the previous settings.
	writeFile(t, path, `{`)
	assert.Error(t, src.Reload())
	assert.Equal(t, "second", src.Settings().Model)
}

func TestSourceSettingsAreCopies(t *testing.T) {
	src := StaticSource(Default())
	s := src.Settings()
	s.Prompts[0].Name = "mutated"
	assert.Equal(t, types.PromptSummarise, src.Settings().Prompts[0].Name)
	assert.NoError(t, src.Reload())
}

func TestSourceWatch(t *testing.T) {
	tmpDir := isolate(t)
	path := filepath.Join(tmpDir, "lmworker.json")
	writeFile(t, path, `{"settings": {"model": "before"}}`)

	src, err := NewSource(tmpDir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = src.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register its directories.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `{"settings": {"model": "after"}}`)

	require.Eventually(t, func() bool {
		return src.Settings().Model == "after"
	}, 3*time.Second, 20*time.Millisecond)
}

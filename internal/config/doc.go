// Package config provides configuration loading, merging, reloading and path
// management for the worker.
//
// # Configuration Loading
//
// Load merges configuration from several sources in priority order:
//
//  1. Built-in defaults (see Default)
//  2. Global config (~/.config/lmworker/)
//  3. Project config in the given directory and its .lmworker/ subdirectory
//  4. LMWORKER_CONFIG file
//  5. LMWORKER_CONFIG_CONTENT inline JSON
//  6. Environment variables
//
// In each directory the files lmworker.json, lmworker.jsonc, lmworker.yaml
// and lmworker.yml are probed in that order.
//
// # Supported Formats
//
//   - lmworker.json / lmworker.jsonc - JSON, comments allowed via tidwall/jsonc
//   - lmworker.yaml / lmworker.yml - YAML via gopkg.in/yaml.v3
//
// # Variable Interpolation
//
// Configuration files support two placeholders:
//   - {env:VAR_NAME} - Expands to environment variable values
//   - {file:path} - Expands to file contents (escaped for a quoted string)
//
// Relative {file:} paths resolve against the config file's directory, and
// ~/ expands to the home directory.
//
//	{
//	  "settings": {
//	    "baseUrl": "http://localhost:1234/v1/chat/completions",
//	    "token": "{env:LMSTUDIO_TOKEN}"
//	  }
//	}
//
// # Merging
//
// Scalar values set in a later source override earlier ones. The prompts
// list is replaced as a whole.
//
// # Environment Variable Overrides
//
//   - LMWORKER_BASE_URL - Chat completions endpoint
//   - LMWORKER_TOKEN - Bearer token (may be set to empty to clear it)
//   - LMWORKER_MODEL - Model name
//   - LMWORKER_LANG - Response language substituted for {lang}
//   - LMWORKER_MAX_TOKENS - Token limit
//   - LMWORKER_LOG_LEVEL - Log level
//
// # Reloading
//
// A Source holds the resolved configuration. Source.Watch uses fsnotify to
// reload it when any of the config files changes; listeners registered with
// OnChange receive the new settings.
package config

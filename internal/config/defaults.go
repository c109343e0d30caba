package config

import "github.com/lm-plugin/worker/pkg/types"

const (
	DefaultBaseURL      = "http://localhost:1234/v1/chat/completions"
	DefaultModel        = "google_gemma-3-12b-it"
	DefaultLang         = "English"
	DefaultPort         = 8787
	DefaultHost         = "127.0.0.1"
	DefaultStorageKey   = "lm-plugin-state"
	DefaultMaxEntrySize = 8192
	DefaultCoalesceMs   = 1
	DefaultStateMs      = 500
	DefaultPersistMs    = 5000
	DefaultFetchTimeout = 30
)

// DefaultPrompts are the prompts shipped with the worker.
func DefaultPrompts() []types.Prompt {
	return []types.Prompt{
		{
			Name:   types.PromptSummarise,
			Prompt: "You are a helpful, intelligent assistant. Create a concise summary of the user's text, structured into 3-5 sentences that capture the main ideas and key points. Use bullet points for main points if possible. The summary should be easy to understand and free from ambiguity. Do not confirm this message, ONLY provide the summary. Summarize in {lang} language.",
		},
		{
			Name:   types.PromptExplain,
			Prompt: "You are a helpful, intelligent assistant. Explain the key concepts and main points of the user's article in simple terms. Focus on clarity, detail and ease of understanding. Do not confirm this message, ONLY provide the explanation. Explain in {lang} language.",
		},
		{
			Name:   types.PromptCustomContent,
			Prompt: "You are a helpful, intelligent assistant. You will provide summarization and feedback services based on the user's queries. Be direct and concise but elaborate when required for clarity. Do not confirm this message, ONLY respond to the user, respond in {lang} language.",
		},
	}
}

// Default returns the built-in configuration.
func Default() *types.Config {
	cors := true
	return &types.Config{
		Settings: types.Settings{
			BaseURL: DefaultBaseURL,
			Model:   DefaultModel,
			Lang:    DefaultLang,
			Prompts: DefaultPrompts(),
		},
		Server: types.ServerConfig{
			Host:       DefaultHost,
			Port:       DefaultPort,
			EnableCORS: &cors,
		},
		Storage: types.StorageConfig{
			Backend:      "file",
			MaxEntrySize: DefaultMaxEntrySize,
			Key:          DefaultStorageKey,
		},
		Timing: types.TimingConfig{
			CoalesceMs: DefaultCoalesceMs,
			StateMs:    DefaultStateMs,
			PersistMs:  DefaultPersistMs,
		},
		Content: types.ContentConfig{
			Format:     "text",
			TimeoutSec: DefaultFetchTimeout,
		},
		LogLevel: "INFO",
	}
}

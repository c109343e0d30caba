package types

// Config represents the worker configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Settings describe the backend and the prompts. They are the part of
	// the configuration the settings editor owns.
	Settings Settings `json:"settings" yaml:"settings"`

	Server  ServerConfig  `json:"server" yaml:"server"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Timing  TimingConfig  `json:"timing" yaml:"timing"`
	Content ContentConfig `json:"content" yaml:"content"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
}

// Settings holds the user-configured backend and prompts.
type Settings struct {
	BaseURL   string   `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Token     string   `json:"token,omitempty" yaml:"token,omitempty"`
	Model     string   `json:"model,omitempty" yaml:"model,omitempty"`
	Lang      string   `json:"lang,omitempty" yaml:"lang,omitempty"`
	MaxTokens *int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Prompts   []Prompt `json:"prompts,omitempty" yaml:"prompts,omitempty"`
}

// Prompt is a named system prompt template. {lang} is substituted with the
// configured language.
type Prompt struct {
	Name   string `json:"name" yaml:"name"`
	Prompt string `json:"prompt" yaml:"prompt"`
}

// Well-known prompt names.
const (
	PromptSummarise     = "Summarise"
	PromptExplain       = "Explain"
	PromptCustomContent = "CustomContent"
)

// FindPrompt returns the prompt with the given name, falling back to the
// first configured prompt. ok is false only when no prompts exist.
func (s Settings) FindPrompt(name string) (Prompt, bool) {
	for _, p := range s.Prompts {
		if p.Name == name {
			return p, true
		}
	}
	if len(s.Prompts) > 0 {
		return s.Prompts[0], true
	}
	return Prompt{}, false
}

// Clone returns a deep copy of the settings.
func (s Settings) Clone() Settings {
	out := s
	if s.MaxTokens != nil {
		v := *s.MaxTokens
		out.MaxTokens = &v
	}
	if s.Prompts != nil {
		out.Prompts = append([]Prompt(nil), s.Prompts...)
	}
	return out
}

// ServerConfig configures the HTTP/websocket surface.
type ServerConfig struct {
	Host       string `json:"host,omitempty" yaml:"host,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
	EnableCORS *bool  `json:"cors,omitempty" yaml:"cors,omitempty"`
}

// StorageConfig selects the persistence adapter.
type StorageConfig struct {
	// Backend is "file", "bolt" or "memory".
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// Path is a directory for "file" and a database file for "bolt".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// MaxEntrySize caps key+value bytes per entry.
	MaxEntrySize int `json:"maxEntrySize,omitempty" yaml:"maxEntrySize,omitempty"`
	// Key prefixes the chunk and metadata keys.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
}

// TimingConfig holds the publish cadences, in milliseconds.
type TimingConfig struct {
	CoalesceMs int `json:"coalesceMs,omitempty" yaml:"coalesceMs,omitempty"`
	StateMs    int `json:"stateMs,omitempty" yaml:"stateMs,omitempty"`
	PersistMs  int `json:"persistMs,omitempty" yaml:"persistMs,omitempty"`
}

// ContentConfig configures document extraction.
type ContentConfig struct {
	// Format is "text" (default) or "markdown".
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	// TimeoutSec bounds a single fetch.
	TimeoutSec int `json:"timeoutSec,omitempty" yaml:"timeoutSec,omitempty"`
}

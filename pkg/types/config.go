package types

// Config is the top-level application configuration. It is assembled by
// internal/config from config files and environment overrides.
type Config struct {
	// Model is the default model in "provider/model" form,
	// e.g. "anthropic/claude-sonnet-4-20250514".
	Model string `json:"model,omitempty"`

	Server    ServerConfig              `json:"server,omitempty"`
	Log       LogConfig                 `json:"log,omitempty"`
	Workspace WorkspaceConfig           `json:"workspace,omitempty"`
	Provider  map[string]ProviderConfig `json:"provider,omitempty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port       int    `json:"port,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	EnableCORS *bool  `json:"cors,omitempty"`
	// AuthToken, when set, gates every request behind a bearer token check.
	AuthToken string `json:"authToken,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `json:"level,omitempty"` // DEBUG | INFO | WARN | ERROR
	Pretty bool   `json:"pretty,omitempty"`
}

// WorkspaceConfig bounds workspace context retrieval.
type WorkspaceConfig struct {
	// Ignore lists doublestar glob patterns excluded from listings.
	Ignore []string `json:"ignore,omitempty"`
	// MaxListing caps the number of paths in a workspace listing.
	MaxListing int `json:"maxListing,omitempty"`
	// MaxFileBytes caps the bytes read from any single context file.
	MaxFileBytes int `json:"maxFileBytes,omitempty"`
}

// ProviderConfig holds credentials and options for one model provider.
type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
	Disabled  bool   `json:"disabled,omitempty"`
}

// Model describes a model offered by a provider.
type Model struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ProviderID string `json:"providerID"`
}

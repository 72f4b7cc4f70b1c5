package extension

import "time"

// Config holds the Bursar extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.bursar" or "bursar" keys).
type Config struct {
	// DisableRoutes skips building the HTTP handler.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix the host mounts the handler under
	// (default: "/bursar").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// Currency is the ISO 4217 code amounts are parsed in (default: "kes").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// DueDays is how long after generation an invoice falls due (default: 30).
	DueDays int `json:"due_days" mapstructure:"due_days" yaml:"due_days"`

	// ConversationTTL is how long a half-finished chat request is kept
	// (default: 30m).
	ConversationTTL time.Duration `json:"conversation_ttl" mapstructure:"conversation_ttl" yaml:"conversation_ttl"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:        "/bursar",
		Currency:        "kes",
		DueDays:         30,
		ConversationTTL: 30 * time.Minute,
	}
}

package extension

import (
	"time"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/directory"
	"github.com/xraph/bursar/entitymem"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/understanding"
)

// Option configures the Bursar Forge extension.
type Option func(*Extension)

// WithStore sets the store for the bursar engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithBursarOption passes a bursar.Option through to the underlying engine.
func WithBursarOption(opt bursar.Option) Option {
	return func(e *Extension) {
		e.bursarOpts = append(e.bursarOpts, opt)
	}
}

// WithPlugin registers a bursar plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.bursarOpts = append(e.bursarOpts, bursar.WithPlugin(p))
	}
}

// WithDirectory sets the student, class and term lookups. Students are
// also handed to the engine for invoice generation.
func WithDirectory(students directory.Students, classes directory.Classes, terms directory.Terms) Option {
	return func(e *Extension) {
		e.students, e.classes, e.terms = students, classes, terms
	}
}

// WithUnderstanding sets the intent model used by the chat resolver.
func WithUnderstanding(c understanding.Client) Option {
	return func(e *Extension) { e.model = c }
}

// WithEntityMemory sets where half-finished chat requests are kept.
func WithEntityMemory(m entitymem.Store) Option {
	return func(e *Extension) { e.memory = m }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes skips building the HTTP handler.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for bursar routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithCurrency sets the engine currency.
func WithCurrency(code string) Option {
	return func(e *Extension) { e.config.Currency = code }
}

// WithDueDays sets the invoice due period.
func WithDueDays(days int) Option {
	return func(e *Extension) { e.config.DueDays = days }
}

// WithConversationTTL sets how long half-finished chat requests are kept.
func WithConversationTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.ConversationTTL = d }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

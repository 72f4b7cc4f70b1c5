// Package extension provides the Forge extension adapter for Bursar.
//
// It implements the forge.Extension interface to integrate Bursar
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management. The engine, the chat
// resolver and (unless routes are disabled) the HTTP handler are
// provided to the container.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.bursar" or "bursar" keys.
package extension

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/api"
	"github.com/xraph/bursar/directory"
	"github.com/xraph/bursar/entitymem"
	"github.com/xraph/bursar/resolver"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/understanding"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "bursar"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "School fee billing engine with a conversational front end"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// defaultConversations bounds the in-process entity memory.
const defaultConversations = 10000

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Bursar as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *bursar.Bursar
	resolver   *resolver.Resolver
	handler    *api.Handler
	store      store.Store
	bursarOpts []bursar.Option

	students directory.Students
	classes  directory.Classes
	terms    directory.Terms
	model    understanding.Client
	memory   entitymem.Store
}

// New creates a new Bursar Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Bursar instance.
// This is nil until Register is called.
func (e *Extension) Engine() *bursar.Bursar { return e.engine }

// Resolver returns the chat resolver. This is nil until Register is called.
func (e *Extension) Resolver() *resolver.Resolver { return e.resolver }

// Handler returns the HTTP handler with BasePath stripped, ready to be
// mounted by the host router. It is nil when routes are disabled.
func (e *Extension) Handler() http.Handler {
	if e.handler == nil {
		return nil
	}
	base := strings.TrimSuffix(e.config.BasePath, "/")
	if base == "" {
		return e.handler
	}
	return http.StripPrefix(base, e.handler)
}

// Register implements [forge.Extension]. It loads configuration,
// initializes the bursar engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}
	if e.memory == nil {
		e.memory = entitymem.NewMemory(defaultConversations, e.config.ConversationTTL)
	}

	e.engine = bursar.New(e.store, e.buildBursarOpts()...)

	ropts := []resolver.Option{resolver.WithDirectory(e.students, e.classes, e.terms)}
	if e.model != nil {
		ropts = append(ropts, resolver.WithUnderstanding(e.model))
	}
	e.resolver = resolver.New(e.engine, e.memory, ropts...)

	if err := vessel.Provide(fapp.Container(), func() (*bursar.Bursar, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	if err := vessel.Provide(fapp.Container(), func() (*resolver.Resolver, error) {
		return e.resolver, nil
	}); err != nil {
		return err
	}

	if e.config.DisableRoutes {
		return nil
	}
	e.handler = api.New(e.engine, api.WithResolver(e.resolver))
	return vessel.Provide(fapp.Container(), func() (*api.Handler, error) {
		return e.handler, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("bursar: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("bursar: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildBursarOpts constructs bursar.Option values from the resolved config.
func (e *Extension) buildBursarOpts() []bursar.Option {
	opts := make([]bursar.Option, 0, len(e.bursarOpts)+3)

	opts = append(opts,
		bursar.WithCurrency(e.config.Currency),
		bursar.WithDueDays(e.config.DueDays),
	)
	if e.students != nil {
		opts = append(opts, bursar.WithStudents(e.students))
	}

	// Pass-through options win over config-derived ones.
	opts = append(opts, e.bursarOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("bursar: configuration is required but not found in config files; " +
				"ensure 'extensions.bursar' or 'bursar' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("bursar: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("currency", e.config.Currency),
		forge.F("due_days", e.config.DueDays),
		forge.F("conversation_ttl", e.config.ConversationTTL),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.bursar", "bursar"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("bursar: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("bursar: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.DueDays == 0 {
		cfg.DueDays = defaults.DueDays
	}
	if cfg.ConversationTTL == 0 {
		cfg.ConversationTTL = defaults.ConversationTTL
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.Currency == "" && programmaticConfig.Currency != "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.DueDays == 0 && programmaticConfig.DueDays != 0 {
		yamlConfig.DueDays = programmaticConfig.DueDays
	}
	if yamlConfig.ConversationTTL == 0 && programmaticConfig.ConversationTTL != 0 {
		yamlConfig.ConversationTTL = programmaticConfig.ConversationTTL
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}

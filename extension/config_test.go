package extension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{DueDays: 14})
	assert.Equal(t, "/bursar", cfg.BasePath)
	assert.Equal(t, "kes", cfg.Currency)
	assert.Equal(t, 14, cfg.DueDays)
	assert.Equal(t, 30*time.Minute, cfg.ConversationTTL)
}

func TestMergeConfigurations(t *testing.T) {
	file := Config{Currency: "ugx", BasePath: "/fees"}
	prog := Config{Currency: "kes", DueDays: 7, DisableRoutes: true, ConversationTTL: time.Minute}

	cfg := mergeConfigurations(file, prog)
	assert.Equal(t, "ugx", cfg.Currency)
	assert.Equal(t, "/fees", cfg.BasePath)
	assert.Equal(t, 7, cfg.DueDays)
	assert.Equal(t, time.Minute, cfg.ConversationTTL)
	assert.True(t, cfg.DisableRoutes)
	assert.False(t, cfg.DisableMigrate)
}

func TestOptionsApply(t *testing.T) {
	e := &Extension{}
	for _, opt := range []Option{
		WithBasePath("/school-fees"),
		WithCurrency("tzs"),
		WithDueDays(21),
		WithDisableMigrate(),
		WithRequireConfig(true),
	} {
		opt(e)
	}
	assert.Equal(t, "/school-fees", e.config.BasePath)
	assert.Equal(t, "tzs", e.config.Currency)
	assert.Equal(t, 21, e.config.DueDays)
	assert.True(t, e.config.DisableMigrate)
	assert.True(t, e.config.RequireConfig)
	assert.Nil(t, e.Handler())
}

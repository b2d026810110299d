package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bookcircle/pkg/config"
)

type testConfig struct {
	Addr  string `env:"TEST_CFG_ADDR" envDefault:":8080"`
	Debug bool   `env:"TEST_CFG_DEBUG" envDefault:"false"`
}

type requiredConfig struct {
	Secret string `env:"TEST_CFG_SECRET,required"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, ":8080", cfg.Addr)
	assert.False(t, cfg.Debug)
}

func TestLoad_FromEnv(t *testing.T) {
	type envConfig struct {
		Addr string `env:"TEST_CFG_ENV_ADDR" envDefault:":8080"`
	}

	t.Setenv("TEST_CFG_ENV_ADDR", ":9999")

	var cfg envConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, ":9999", cfg.Addr)
}

func TestLoad_CachedPerType(t *testing.T) {
	type cachedConfig struct {
		Addr string `env:"TEST_CFG_CACHED_ADDR" envDefault:":1111"`
	}

	var first cachedConfig
	require.NoError(t, config.Load(&first))

	// Changing the environment after the first load has no effect,
	// the cached value wins.
	t.Setenv("TEST_CFG_CACHED_ADDR", ":2222")

	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, first.Addr, second.Addr)
}

func TestLoad_NilPointer(t *testing.T) {
	err := config.Load[testConfig](nil)
	assert.ErrorIs(t, err, config.ErrNilPointer)
}

func TestLoad_RequiredMissing(t *testing.T) {
	var cfg requiredConfig
	err := config.Load(&cfg)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	type mustConfig struct {
		Secret string `env:"TEST_CFG_MUST_SECRET,required"`
	}

	assert.Panics(t, func() {
		var cfg mustConfig
		config.MustLoad(&cfg)
	})
}

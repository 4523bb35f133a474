package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit_RejectsBadLevel(t *testing.T) {
	err := Init(Config{Level: "shouty"})
	require.Error(t, err)
}

func TestGet_CachesPerCategory(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info"}))

	a := Get(CategoryLoop)
	b := Get(CategoryLoop)
	assert.Same(t, a, b)
	assert.NotSame(t, a, Get(CategoryResearch))
}

func TestGet_NamesLoggerAfterCategory(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetLogger(zap.New(core))

	Get(CategoryPremortem).Info("scored scenarios")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "premortem", entries[0].LoggerName)
}

func TestInit_DisabledCategoryIsSilent(t *testing.T) {
	require.NoError(t, Init(Config{
		Level:      "debug",
		Categories: map[string]bool{"store": false},
	}))

	// A disabled category must return a usable, silent logger.
	l := Get(CategoryStore)
	require.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zap.ErrorLevel))
}

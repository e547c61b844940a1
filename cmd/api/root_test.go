package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbparse/internal/config"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"parse"}, {"batch"}, {"embedding", "test"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestServeFlagsBindToConfigKeys(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://kb:kb@localhost:5432/kb")
	t.Setenv("PARSE_WORKERS", "2")

	root := newRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags([]string{"--port=9100", "--parse-workers=7", "--log-level=debug"}))

	cfg, err := config.LoadConfig(serve.Flags())
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 7, cfg.ParseWorkers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.ParseQueueSize)
}

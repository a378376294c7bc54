package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadBootstrap(t *testing.T) {
	bc, err := loadBootstrap(writeConf(t, `
server:
  http:
    addr: 127.0.0.1:8000
data:
  database:
    host: localhost
    port: 5432
    name: macro_pulse
`))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8000", bc.Server.Http.Addr)
	assert.Equal(t, int32(5432), bc.Data.Database.Port)
	require.NotNil(t, bc.Pulse)
	assert.Empty(t, bc.Pulse.Config)
}

func TestLoadBootstrapMissingSections(t *testing.T) {
	_, err := loadBootstrap(writeConf(t, `
data:
  database:
    host: localhost
`))
	assert.ErrorContains(t, err, "server.http")

	_, err = loadBootstrap(writeConf(t, `
server:
  http:
    addr: 127.0.0.1:8000
`))
	assert.ErrorContains(t, err, "data.database")
}

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-relay/internal/conf"
)

func TestConfigPrintsRedactedYAML(t *testing.T) {
	settings := &conf.Settings{}
	settings.Main.Name = "relay-test"
	settings.Upstream.MQTT.Password = "hunter2"
	settings.Output.MySQL.Password = "s3cret"

	var out bytes.Buffer
	cmd := Command(settings)
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "relay-test")
	assert.Contains(t, out.String(), "[REDACTED]")
	assert.NotContains(t, out.String(), "hunter2")
	assert.NotContains(t, out.String(), "s3cret")
	assert.Equal(t, "hunter2", settings.Upstream.MQTT.Password, "settings are not modified")
}

func TestConfigWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	var out bytes.Buffer
	cmd := Command(&conf.Settings{})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--write", path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "upstream:")
	assert.Contains(t, out.String(), path)

	cmd = Command(&conf.Settings{})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--write", path})
	assert.Error(t, cmd.Execute(), "an existing file is not overwritten")
}

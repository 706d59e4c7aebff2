package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holocam.yaml")
	payload := `
port: 9000
sensor_endpoint: tcp://10.0.0.5:31001
frame_rate: 15
mdns_disabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	cfg := AppConfig{Port: 8000, FrameWidth: 640}
	require.NoError(t, LoadFile(path, &cfg))

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "tcp://10.0.0.5:31001", cfg.SensorEndpoint)
	assert.Equal(t, 15.0, cfg.FrameRate)
	assert.True(t, cfg.MDNSDisabled)
	assert.Equal(t, 640, cfg.FrameWidth, "fields absent from the file keep their flag value")
}

func TestLoadFileMissing(t *testing.T) {
	cfg := AppConfig{}
	assert.Error(t, LoadFile("/nonexistent/holocam.yaml", &cfg))
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not an int"), 0o644))
	assert.Error(t, LoadFile(path, &AppConfig{}))
}

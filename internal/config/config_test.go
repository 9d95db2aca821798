package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_CameraDefaults(t *testing.T) {
	path := writeConfig(t, `
cameras:
  defaults:
    username: admin
    password: devicepass
    port: 37777
  entries:
    - id: CAM1
      address: 10.0.0.10
      enabled: true
    - id: CAM2
      name: North Gate
      address: 10.0.0.11
      port: 37778
      username: gate
      password: gatepass
      channel: 1
      enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Cameras.Entries, 2)

	c1 := cfg.Cameras.Entries[0]
	assert.Equal(t, "admin", c1.Username)
	assert.Equal(t, "devicepass", c1.Password)
	assert.Equal(t, 37777, c1.Port)
	assert.Equal(t, "CAM1", c1.Name) // falls back to id
	assert.Equal(t, "dahua", c1.Vendor)

	c2 := cfg.Cameras.Entries[1]
	assert.Equal(t, "gate", c2.Username)
	assert.Equal(t, 37778, c2.Port)
	assert.Equal(t, "North Gate", c2.Name)
}

func TestLoad_ShippedDefaultConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "default.yaml"))
	require.NoError(t, err, "the sample config must pass validation as shipped")
	assert.NotEmpty(t, cfg.EnabledCameras())
}

func TestLoad_RejectsEnabledCameraWithoutAddress(t *testing.T) {
	path := writeConfig(t, `
cameras:
  defaults:
    password: x
  entries:
    - id: CAM1
      enabled: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsDuplicateIDs(t *testing.T) {
	path := writeConfig(t, `
cameras:
  defaults:
    password: x
  entries:
    - id: CAM1
      address: 10.0.0.10
      enabled: true
    - id: CAM1
      address: 10.0.0.11
      enabled: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsTimeoutLongerThanInterval(t *testing.T) {
	path := writeConfig(t, `
listener:
  check_interval_sec: 10
  device_timeout_sec: 30
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestEnabledCameras(t *testing.T) {
	path := writeConfig(t, `
cameras:
  defaults:
    password: x
  entries:
    - id: CAM1
      address: 10.0.0.10
      enabled: true
    - id: CAM2
      address: 10.0.0.11
      enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	enabled := cfg.EnabledCameras()
	require.Len(t, enabled, 1)
	assert.Equal(t, "CAM1", enabled[0].ID)
}

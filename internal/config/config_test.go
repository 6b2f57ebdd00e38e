package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.yaml")
	content := "state_prefix: /tmp/sup\ngossip_port: 9700\ntick_interval: 2s\ngossip_seeds:\n  - 10.0.0.1:9638\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/sup", cfg.StatePrefix)
	require.Equal(t, 9700, cfg.GossipPort)
	require.Equal(t, 2*time.Second, time.Duration(cfg.TickInterval))
	require.Equal(t, []string{"10.0.0.1:9638"}, cfg.GossipSeeds)
	require.Equal(t, "/var/lib/supervisor/pkgs", cfg.PackageRoot) // untouched default
}

func TestManagerConfigProjectsLayout(t *testing.T) {
	cfg := Default()
	cfg.StatePath = "/custom/state"

	mc := cfg.ManagerConfig()
	require.Equal(t, "/custom/state", mc.Layout.Custom)
	require.Equal(t, time.Second, mc.TickInterval)
}

package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufmgr/bufmgr"
	"github.com/vkngwrapper/bufmgr/config"
	"golang.org/x/exp/slog"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(viper.New())
	require.NoError(t, err)

	require.Equal(t, config.Default(), cfg)

	options := cfg.CreateOptions()
	require.Equal(t, bufmgr.SyncModeTimeline, options.SyncMode)
	require.Equal(t, 16, options.FencePoolCap)
	require.Equal(t, bufmgr.DefaultSyncDisabledDelay, options.SyncDisabledDelay)
	require.Zero(t, options.Flags)
	require.Zero(t, options.Timeslice)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("BUFMGR_SYNC_MODE", "binary")
	t.Setenv("BUFMGR_FENCE_POOL_CAP", "4")
	t.Setenv("BUFMGR_RESOURCES_DEFERRED_BINDING", "true")
	t.Setenv("BUFMGR_SYNC_DISABLED_DELAY", "5ms")

	cfg, err := config.Load(viper.New())
	require.NoError(t, err)

	options := cfg.CreateOptions()
	require.Equal(t, bufmgr.SyncModeBinary, options.SyncMode)
	require.Equal(t, 4, options.FencePoolCap)
	require.Equal(t, bufmgr.CreateDeferredBinding, options.Flags)
	require.Equal(t, 5*time.Millisecond, options.SyncDisabledDelay)
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv(config.LegacySyncDisable, "1")
	t.Setenv(config.LegacyTimeslice, "5000")
	t.Setenv(config.LegacyProfilerLog, "/tmp/profile.log")

	cfg, err := config.Load(viper.New())
	require.NoError(t, err)

	require.Equal(t, bufmgr.SyncModeDisabled, cfg.SyncMode())
	require.Equal(t, "/tmp/profile.log", cfg.Profiler.Log)

	options := cfg.CreateOptions()
	require.Equal(t, bufmgr.SyncModeDisabled, options.SyncMode)
	require.Equal(t, 5*time.Millisecond, options.Timeslice)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bufmgr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sync:
  mode: binary
fence:
  pool_cap: 8
resources:
  deferred_creation: true
manager:
  externally_synchronized: true
log:
  level: debug
`), 0o600))

	// The environment wins over the file
	t.Setenv("BUFMGR_FENCE_POOL_CAP", "2")

	v := viper.New()
	v.SetConfigFile(path)

	cfg, err := config.Load(v)
	require.NoError(t, err)

	require.Equal(t, "binary", cfg.Sync.Mode)
	require.Equal(t, 2, cfg.Fence.PoolCap)
	require.Equal(t, "debug", cfg.Log.Level)

	options := cfg.CreateOptions()
	require.Equal(t, bufmgr.CreateDeferredCreation|bufmgr.CreateExternallySynchronized, options.Flags)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := config.Load(v)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(cfg *config.Config)
	}{
		{name: "UnknownSyncMode", modify: func(cfg *config.Config) { cfg.Sync.Mode = "eventual" }},
		{name: "ZeroPoolCap", modify: func(cfg *config.Config) { cfg.Fence.PoolCap = 0 }},
		{name: "NegativeDelay", modify: func(cfg *config.Config) { cfg.Sync.DisabledDelay = -time.Millisecond }},
		{name: "NegativeTimeslice", modify: func(cfg *config.Config) { cfg.Engine.TimesliceUS = -1 }},
		{name: "UnknownLevel", modify: func(cfg *config.Config) { cfg.Log.Level = "loud" }},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			cfg := config.Default()
			require.NoError(t, cfg.Validate())

			testCase.modify(cfg)
			err := cfg.Validate()
			require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))
		})
	}
}

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer
	logger, err := config.NewLogger("warn", &out)
	require.NoError(t, err)

	logger.Info("quiet")
	logger.Warn("loud")
	require.NotContains(t, out.String(), "quiet")
	require.Contains(t, out.String(), "loud")

	level, err := config.ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)

	_, err = config.NewLogger("loud", &out)
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))
}

func TestNewProfilerLogger(t *testing.T) {
	logger, closeLog, err := config.NewProfilerLogger("")
	require.NoError(t, err)
	require.Nil(t, logger)
	require.NoError(t, closeLog())

	path := filepath.Join(t.TempDir(), "profile.log")
	logger, closeLog, err = config.NewProfilerLogger(path)
	require.NoError(t, err)

	logger.Info("alloc", slog.String("name", "profiled"))
	require.NoError(t, closeLog())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"msg":"alloc"`)
	require.Contains(t, string(contents), `"name":"profiled"`)
}

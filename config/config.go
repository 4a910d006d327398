// Package config loads buffer manager settings from defaults, an optional config file and the
// environment, including the legacy variable names the driver has always honored.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/vkngwrapper/bufmgr/bufmgr"
	"github.com/vkngwrapper/bufmgr/internal/fence"
)

// EnvPrefix is prepended to every key when it is looked up in the environment, so sync.mode
// is read from BUFMGR_SYNC_MODE
const EnvPrefix = "BUFMGR"

// Legacy environment variables, read in addition to the prefixed names
const (
	LegacySyncDisable = "INTEL_SYNCHRONIZATION_DISABLE"
	LegacyProfilerLog = "MEDIA_MEMORY_PROFILER_LOG"
	LegacyTimeslice   = "INTEL_ENGINE_TIMESLICE"
)

// Config is the complete set of buffer manager settings
type Config struct {
	Sync      SyncConfig      `mapstructure:"sync"`
	Fence     FenceConfig     `mapstructure:"fence"`
	Resources ResourcesConfig `mapstructure:"resources"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Profiler  ProfilerConfig  `mapstructure:"profiler"`
	Log       LogConfig       `mapstructure:"log"`
	Manager   ManagerConfig   `mapstructure:"manager"`
}

type SyncConfig struct {
	// Mode is timeline, binary or disabled
	Mode string `mapstructure:"mode"`
	// Disable forces the disabled mode regardless of Mode
	Disable bool `mapstructure:"disable"`
	// DisabledDelay is how long CPU waits sleep while synchronization is disabled
	DisabledDelay time.Duration `mapstructure:"disabled_delay"`
}

type FenceConfig struct {
	PoolCap int `mapstructure:"pool_cap"`
}

type ResourcesConfig struct {
	DeferredCreation bool `mapstructure:"deferred_creation"`
	DeferredBinding  bool `mapstructure:"deferred_binding"`
}

type EngineConfig struct {
	// TimesliceUS is applied to single-engine render and compute contexts when it lies in
	// (0, 100000)
	TimesliceUS int `mapstructure:"timeslice_us"`
}

type ProfilerConfig struct {
	// Log is the path of the memory profiler log. Empty disables profiling.
	Log string `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ManagerConfig struct {
	ExternallySynchronized bool `mapstructure:"externally_synchronized"`
}

// Default returns the settings used when nothing is configured
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			Mode:          bufmgr.SyncModeTimeline.String(),
			DisabledDelay: bufmgr.DefaultSyncDisabledDelay,
		},
		Fence: FenceConfig{
			PoolCap: fence.DefaultCap,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("sync.mode", cfg.Sync.Mode)
	v.SetDefault("sync.disable", cfg.Sync.Disable)
	v.SetDefault("sync.disabled_delay", cfg.Sync.DisabledDelay)

	v.SetDefault("fence.pool_cap", cfg.Fence.PoolCap)

	v.SetDefault("resources.deferred_creation", cfg.Resources.DeferredCreation)
	v.SetDefault("resources.deferred_binding", cfg.Resources.DeferredBinding)

	v.SetDefault("engine.timeslice_us", cfg.Engine.TimesliceUS)

	v.SetDefault("profiler.log", cfg.Profiler.Log)

	v.SetDefault("log.level", cfg.Log.Level)

	v.SetDefault("manager.externally_synchronized", cfg.Manager.ExternallySynchronized)
}

func bindLegacyEnv(v *viper.Viper) error {
	bindings := []struct {
		key    string
		legacy string
	}{
		{key: "sync.disable", legacy: LegacySyncDisable},
		{key: "profiler.log", legacy: LegacyProfilerLog},
		{key: "engine.timeslice_us", legacy: LegacyTimeslice},
	}

	replacer := strings.NewReplacer(".", "_")
	for _, binding := range bindings {
		prefixed := EnvPrefix + "_" + strings.ToUpper(replacer.Replace(binding.key))

		err := v.BindEnv(binding.key, prefixed, binding.legacy)
		if err != nil {
			return errors.Wrapf(err, "binding %s", binding.legacy)
		}
	}

	return nil
}

// Load reads the configuration into v and returns it validated. Values come from the defaults,
// then the config file set on v with SetConfigFile if there is one, then the environment.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err := bindLegacyEnv(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() != "" {
		err = v.ReadInConfig()
		if err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", v.ConfigFileUsed())
		}
	}

	err = v.Unmarshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "validating config")
	}

	return cfg, nil
}

// Validate checks every setting that would otherwise fail later, when the manager is created
func (c *Config) Validate() error {
	_, err := bufmgr.ParseSyncMode(c.Sync.Mode)
	if err != nil {
		return errors.Wrap(err, "sync.mode")
	}

	if c.Sync.DisabledDelay < 0 {
		return errors.Wrapf(bufmgr.ErrInvalidArgument, "sync.disabled_delay %s is negative", c.Sync.DisabledDelay)
	}

	if c.Fence.PoolCap < 1 {
		return errors.Wrapf(bufmgr.ErrInvalidArgument, "fence.pool_cap must be at least 1, got %d", c.Fence.PoolCap)
	}

	if c.Engine.TimesliceUS < 0 {
		return errors.Wrapf(bufmgr.ErrInvalidArgument, "engine.timeslice_us %d is negative", c.Engine.TimesliceUS)
	}

	_, err = ParseLevel(c.Log.Level)
	if err != nil {
		return errors.Wrap(err, "log.level")
	}

	return nil
}

// SyncMode returns the effective synchronization mode
func (c *Config) SyncMode() bufmgr.SyncMode {
	if c.Sync.Disable {
		return bufmgr.SyncModeDisabled
	}

	mode, err := bufmgr.ParseSyncMode(c.Sync.Mode)
	if err != nil {
		return bufmgr.SyncModeTimeline
	}
	return mode
}

// CreateOptions converts the configuration to manager creation options. The profiler logger
// is left unset; see NewProfilerLogger.
func (c *Config) CreateOptions() bufmgr.CreateOptions {
	var flags bufmgr.CreateFlags
	if c.Resources.DeferredCreation {
		flags |= bufmgr.CreateDeferredCreation
	}
	if c.Resources.DeferredBinding {
		flags |= bufmgr.CreateDeferredBinding
	}
	if c.Manager.ExternallySynchronized {
		flags |= bufmgr.CreateExternallySynchronized
	}

	return bufmgr.CreateOptions{
		Flags:             flags,
		SyncMode:          c.SyncMode(),
		FencePoolCap:      c.Fence.PoolCap,
		SyncDisabledDelay: c.Sync.DisabledDelay,
		Timeslice:         time.Duration(c.Engine.TimesliceUS) * time.Microsecond,
	}
}

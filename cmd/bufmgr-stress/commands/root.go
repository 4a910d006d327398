// Package commands implements the bufmgr-stress command line, which drives a buffer manager
// against the simulated device.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vkngwrapper/bufmgr/config"
)

type rootOptions struct {
	v       *viper.Viper
	cfgFile string
}

// NewRootCommand builds the bufmgr-stress command tree with its own configuration state
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:   "bufmgr-stress",
		Short: "Exercise the GPU buffer manager against a simulated device",
		Long: `bufmgr-stress runs concurrent submissions with random read and write exec lists
across several execution contexts of a simulated GPU, then checks the fence pool bounds and
prints the manager statistics.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, toml or json)")
	root.PersistentFlags().String("sync-mode", "", "synchronization mode: timeline, binary or disabled")
	root.PersistentFlags().Int("pool-cap", 0, "busy fence cap per context")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")

	bind := map[string]string{
		"sync.mode":      "sync-mode",
		"fence.pool_cap": "pool-cap",
		"log.level":      "log-level",
	}
	for key, flag := range bind {
		_ = opts.v.BindPFlag(key, root.PersistentFlags().Lookup(flag))
	}

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newConfigCommand(opts))

	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
	}

	return config.Load(o.v)
}

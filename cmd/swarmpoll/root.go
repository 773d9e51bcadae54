package main

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/swarmpoll/internal/config"
)

var logger = loggo.GetLogger("swarmpoll.cmd")

type globalOpts struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	root := &cobra.Command{
		Use:   "swarmpoll",
		Short: "Poll message swarms and open group rooms",
		Long: `swarmpoll keeps one poller per mailbox: the local inbox, every closed
group and every open group room listed in the config file. Retrieved
messages are deduplicated and handed to the processing queue in order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return opts.load()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "swarmpoll.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", `logging spec, e.g. "<root>=DEBUG" (overrides log_level)`)

	root.AddCommand(
		newRunCmd(opts),
		newSwarmCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *globalOpts) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return errors.Trace(err)
	}
	spec := cfg.LogLevel
	if o.logLevel != "" {
		spec = o.logLevel
	}
	if err := loggo.ConfigureLoggers(spec); err != nil {
		return errors.Annotate(err, "configuring logging")
	}
	o.cfg = cfg
	return nil
}

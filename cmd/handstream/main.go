package main

import (
	"fmt"
	"os"

	"github.com/danmuck/handstream/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
}

func (o *globalOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "path to a TOML config file")
	fs.StringVar(&o.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "handstream: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "handstream",
		Short: "Stream hand-tracking data between a producer and a consumer",
		Long: `handstream carries hand-tracking data over two channels: hand states
over UDP, skeleton and mesh snapshots over TCP.

Run "handstream receive" on the consuming machine and "handstream send"
on the producing one. Both read the same TOML config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if opts.logLevel != "" && !logging.SetLevel(opts.logLevel) {
				return fmt.Errorf("unknown log level %q", opts.logLevel)
			}
			return nil
		},
	}
	opts.bind(root.PersistentFlags())

	root.AddCommand(
		receiveCmd(opts),
		sendCmd(opts),
		ctlCmd(),
	)
	return root
}

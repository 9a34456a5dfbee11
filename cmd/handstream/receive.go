package main

import (
	"os/signal"
	"syscall"

	"github.com/danmuck/handstream/internal/logging"
	"github.com/danmuck/handstream/internal/receiver"
	"github.com/spf13/cobra"
)

func receiveCmd(opts *globalOptions) *cobra.Command {
	var (
		listen        string
		control       string
		metrics       string
		recordingsDir string
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Accept a producer and apply its hand data",
		Long: `Listen on the configured TCP and UDP address, route incoming data and
apply it on the render and physics ticks. Recordings are kept in the
recordings directory and driven through the admin endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			rc := cfg.Receiver
			if cmd.Flags().Changed("listen") {
				rc.StreamAddress = listen
				rc.DatagramAddress = listen
			}
			if cmd.Flags().Changed("control") {
				rc.ControlAddress = control
			}
			if cmd.Flags().Changed("metrics") {
				rc.MetricsAddress = metrics
			}
			if cmd.Flags().Changed("recordings-dir") {
				rc.RecordingsDir = recordingsDir
			}

			consumer := receiver.NewLogConsumer()
			svc, err := receiver.NewService(rc, consumer)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err = svc.Run(ctx)
			hands, skeletons, meshes := consumer.Counts()
			cliLog := logging.Component("cli")
			cliLog.Info().
				Uint64("hands", hands).
				Uint64("skeletons", skeletons).
				Uint64("meshes", meshes).
				Msg("receive finished")
			return err
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "host:port for both channels")
	cmd.Flags().StringVar(&control, "control", "", "admin endpoint address, empty disables")
	cmd.Flags().StringVar(&metrics, "metrics", "", "HTTP status and metrics address, empty disables")
	cmd.Flags().StringVar(&recordingsDir, "recordings-dir", "", "directory for recordings, empty keeps them in memory")
	return cmd
}

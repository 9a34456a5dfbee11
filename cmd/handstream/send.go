package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/handstream/internal/sender"
	"github.com/spf13/cobra"
)

func sendCmd(opts *globalOptions) *cobra.Command {
	var (
		peer          string
		notReadyPolls int
		curlPeriod    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Stream synthetic hands to a receiver",
		Long: `Stream an animated synthetic hand pair to the configured peer. Hand
states go over UDP at the render and physics rates; each hand's skeleton
and mesh go over TCP once available and again after every reconnect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			sc := cfg.Sender
			if cmd.Flags().Changed("peer") {
				sc.StreamAddress = peer
				sc.DatagramAddress = peer
			}

			src := sender.DefaultSyntheticConfig()
			src.NotReadyPolls = notReadyPolls
			src.CurlPeriod = curlPeriod
			svc, err := sender.NewService(sc, sender.NewSynthetic(src))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&peer, "peer", "p", "", "receiver host:port for both channels")
	cmd.Flags().IntVar(&notReadyPolls, "not-ready-polls", 0, "snapshot polls that fail before topology is available")
	cmd.Flags().DurationVar(&curlPeriod, "curl-period", 2*time.Second, "duration of one finger open-close cycle")
	return cmd
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/danmuck/handstream/internal/receiver"
	"github.com/spf13/cobra"
)

func ctlCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "ctl <action> [name|frame]",
		Short: "Send one admin action to a running receiver",
		Long: `Send one action to a receiver's admin endpoint and print the reply.

Actions: status, list_recordings, start_recording <name>, stop_recording,
delete_recording <name>, play <name>, replay, seek <frame>, clear_seek,
stop_playback, reprocess_history.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]
			var name string
			var frame int
			if len(args) == 2 {
				if action == "seek" {
					n, err := strconv.Atoi(args[1])
					if err != nil {
						return fmt.Errorf("seek frame: %w", err)
					}
					frame = n
				} else {
					name = args[1]
				}
			}

			client := receiver.NewControlClient(addr)
			defer client.Close()
			data, err := client.Call(action, name, frame)
			if err != nil {
				return fmt.Errorf("%s: %w", action, err)
			}
			if len(data) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}
			var out bytes.Buffer
			if err := json.Indent(&out, data, "", "  "); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:27010", "receiver admin endpoint")
	return cmd
}

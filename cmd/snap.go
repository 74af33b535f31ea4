package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fedineko/crabo/internal/snapshot"
)

func newSnapCmd() *cobra.Command {
	var bypassCache bool
	cmd := &cobra.Command{
		Use:   "snap <url>...",
		Short: "Produces snapshots for the given URLs and prints them as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapCommand(cmd, args, bypassCache)
		},
	}
	cmd.Flags().BoolVar(&bypassCache, "bypass-cache", false, "ignore cached snapshots")
	return cmd
}

func runSnapCommand(cmd *cobra.Command, args []string, bypassCache bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	p := appInstance.Pipeline()
	enc := json.NewEncoder(cmd.OutOrStdout())

	failed := 0
	for _, raw := range args {
		u, err := snapshot.ParseURL(raw)
		if err == nil {
			var snap snapshot.Snapshot
			snap, err = p.ProduceRequest(cmd.Context(), snapshot.Request{URL: u, BypassCache: bypassCache})
			if err == nil {
				if err := enc.Encode(snap); err != nil {
					return fmt.Errorf("write snapshot: %w", err)
				}
				continue
			}
		}
		failed++
		appInstance.Logger().Warn("snapshot failed",
			zap.String("url", raw),
			zap.String("kind", snapshot.Kind(err)),
			zap.Error(err),
		)
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", raw, err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d snapshots failed", failed, len(args))
	}
	return nil
}

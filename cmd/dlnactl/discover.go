package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mikey-austin/plex_dlna/internal/adapters/cdclient"
	"github.com/mikey-austin/plex_dlna/internal/adapters/output"
)

func discoverCommand() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find media servers with SSDP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), wait+app.timeout)
			defer cancel()

			found, err := cdclient.Discover(ctx, wait)
			if err != nil {
				return err
			}
			result := output.DiscoverResult{Servers: describeAll(ctx, app, found)}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().DurationVarP(&wait, "wait", "w", 2*time.Second, "how long to listen for replies")
	return cmd
}

// describeAll fetches each server's friendly name concurrently. Failures are
// reported per server.
func describeAll(ctx context.Context, app *app, found []cdclient.Found) []output.Server {
	servers := make([]output.Server, len(found))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, f := range found {
		i, f := i, f
		servers[i] = output.Server{UUID: f.UUID, Location: f.Location, Server: f.Server}
		g.Go(func() error {
			dev, err := cdclient.Describe(ctx, app.http, f.Location)
			if err != nil {
				servers[i].Error = err.Error()
				return nil
			}
			servers[i].FriendlyName = dev.FriendlyName
			return nil
		})
	}
	_ = g.Wait()
	return servers
}

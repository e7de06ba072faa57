package main

import (
	"github.com/spf13/cobra"

	"github.com/mikey-austin/plex_dlna/internal/adapters/cdclient"
)

func describeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe [server]",
		Short: "Show a server's device description",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			location, err := app.location(firstArg(args))
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			dev, err := cdclient.Describe(ctx, app.http, location)
			if err != nil {
				return err
			}
			return app.printer.Print(dev)
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

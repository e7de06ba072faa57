package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/plex_dlna/internal/adapters/cdclient"
	"github.com/mikey-austin/plex_dlna/internal/adapters/output"
)

type listFlags struct {
	server string
	start  int64
	count  int64
	sort   string
	filter string
}

func (f *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.server, "server", "s", "", "server location or alias")
	cmd.Flags().Int64Var(&f.start, "start", 0, "starting index")
	cmd.Flags().Int64VarP(&f.count, "count", "n", 50, "requested count (0 for all)")
	cmd.Flags().StringVar(&f.sort, "sort", "", "sort criteria, e.g. +dc:title")
	cmd.Flags().StringVar(&f.filter, "filter", "*", "property filter")
}

func (f *listFlags) client(ctx context.Context, app *app) (*cdclient.Client, string, error) {
	location, err := app.location(f.server)
	if err != nil {
		return nil, "", err
	}
	dev, err := cdclient.Describe(ctx, app.http, location)
	if err != nil {
		return nil, "", err
	}
	client, err := cdclient.New(app.http, dev)
	if err != nil {
		return nil, "", err
	}
	return client, location, nil
}

func browseCommand() *cobra.Command {
	var (
		flags    listFlags
		metadata bool
	)

	cmd := &cobra.Command{
		Use:   "browse [object-id]",
		Short: "Browse a container (default root)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			client, location, err := flags.client(ctx, app)
			if err != nil {
				return err
			}
			objectID := firstArg(args)
			if objectID == "" {
				objectID = "0"
			}
			res, err := client.Browse(ctx, cdclient.BrowseRequest{
				ObjectID:       objectID,
				Metadata:       metadata,
				Filter:         flags.filter,
				StartingIndex:  flags.start,
				RequestedCount: flags.count,
				SortCriteria:   flags.sort,
			})
			if err != nil {
				return err
			}
			return app.printer.Print(output.ListingResult{Server: location, ObjectID: objectID, Result: res})
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVarP(&metadata, "metadata", "m", false, "show the object itself instead of its children")
	return cmd
}

func searchCommand() *cobra.Command {
	var (
		flags     listFlags
		container string
	)

	cmd := &cobra.Command{
		Use:   "search <text-or-criteria>",
		Short: "Search a container; plain text matches titles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()

			client, location, err := flags.client(ctx, app)
			if err != nil {
				return err
			}
			res, err := client.Search(ctx, cdclient.SearchRequest{
				ContainerID:    container,
				SearchCriteria: cdclient.Criteria(args[0]),
				Filter:         flags.filter,
				StartingIndex:  flags.start,
				RequestedCount: flags.count,
				SortCriteria:   flags.sort,
			})
			if err != nil {
				return err
			}
			return app.printer.Print(output.ListingResult{Server: location, ObjectID: container, Result: res})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&container, "container", "0", "container to search")
	return cmd
}

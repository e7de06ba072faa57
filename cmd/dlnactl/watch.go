package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/plex_dlna/internal/adapters/output"
	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/pkg/events"
)

func watchCommand() *cobra.Command {
	var presence bool

	cmd := &cobra.Command{
		Use:   "watch [device-uuid]",
		Short: "Follow server events over MQTT",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			client, err := app.mqttClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if presence {
				ctx, cancel := withTimeout(cmd.Context(), app.timeout)
				defer cancel()
				servers, err := client.ListPresence(ctx)
				if err != nil {
					return core.WrapError(core.ExitUpstream, "list presence", err)
				}
				return app.printer.Print(output.PresenceResult{Servers: servers})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deviceID := firstArg(args)
			stream, err := client.Watch(ctx, deviceID)
			if err != nil {
				return core.WrapError(core.ExitUpstream, "subscribe", err)
			}
			for env := range stream {
				line := output.EventLine{Topic: events.TopicEvents(app.broker.topicBase, env.DeviceID, env.Type), Envelope: env}
				if err := app.printer.Print(line); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&presence, "presence", false, "list retained presence and exit")
	return cmd
}

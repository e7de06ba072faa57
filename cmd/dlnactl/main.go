package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mikey-austin/plex_dlna/internal/adapters/config"
	"github.com/mikey-austin/plex_dlna/internal/adapters/mqtt"
	"github.com/mikey-austin/plex_dlna/internal/adapters/output"
	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/pkg/events"
)

type app struct {
	config  config.Config
	http    *http.Client
	printer output.Printer
	timeout time.Duration
	broker  brokerOptions
}

type brokerOptions struct {
	url       string
	topicBase string
	user      string
	pass      string
	tlsCA     string
	tlsCert   string
	tlsKey    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(core.ExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "dlnactl",
		Short:         "Inspect DLNA media servers",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var (
		configPath string
		timeout    time.Duration
		jsonOut    bool
		noColor    bool
		broker     brokerOptions
	)

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 0, "request timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color")
	root.PersistentFlags().StringVarP(&broker.url, "broker", "b", "", "MQTT broker URL for watch")
	root.PersistentFlags().StringVar(&broker.topicBase, "topic-base", "", "MQTT topic base")
	root.PersistentFlags().StringVar(&broker.user, "user", "", "MQTT username")
	root.PersistentFlags().StringVar(&broker.pass, "pass", "", "MQTT password")
	root.PersistentFlags().StringVar(&broker.tlsCA, "tls-ca", "", "TLS CA path")
	root.PersistentFlags().StringVar(&broker.tlsCert, "tls-cert", "", "TLS cert path")
	root.PersistentFlags().StringVar(&broker.tlsKey, "tls-key", "", "TLS key path")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if noColor {
			pterm.DisableColor()
		}

		var (
			cfg config.Config
			err error
		)
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return core.WrapError(core.ExitUsage, "load config", err)
		}
		if timeout <= 0 {
			timeout = cfg.TimeoutOr(5 * time.Second)
		}
		if broker.url == "" {
			broker.url = cfg.Broker
		}
		if broker.topicBase == "" {
			broker.topicBase = cfg.TopicBase
		}
		if broker.topicBase == "" {
			broker.topicBase = events.BaseTopic
		}

		var printer output.Printer = output.HumanPrinter{Out: cmd.OutOrStdout()}
		if jsonOut {
			printer = output.JSONPrinter{Out: cmd.OutOrStdout()}
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			config:  cfg,
			http:    &http.Client{Timeout: timeout},
			printer: printer,
			timeout: timeout,
			broker:  broker,
		}))
		return nil
	}

	root.AddCommand(discoverCommand())
	root.AddCommand(describeCommand())
	root.AddCommand(browseCommand())
	root.AddCommand(searchCommand())
	root.AddCommand(watchCommand())
	return root
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

func (a *app) location(selector string) (string, error) {
	location, err := a.config.Resolve(selector)
	if err != nil {
		return "", core.WrapError(core.ExitUsage, "resolve server", err)
	}
	return location, nil
}

func (a *app) mqttClient() (*mqtt.Client, error) {
	if a.broker.url == "" {
		return nil, &core.CLIError{Code: core.ExitUsage, Msg: "broker is required (set --broker or broker in dlnactl.toml)"}
	}
	client, err := mqtt.NewClient(mqtt.Options{
		BrokerURL: a.broker.url,
		ClientID:  fmt.Sprintf("dlnactl-%d", time.Now().UnixNano()),
		Username:  a.broker.user,
		Password:  a.broker.pass,
		TLSCA:     a.broker.tlsCA,
		TLSCert:   a.broker.tlsCert,
		TLSKey:    a.broker.tlsKey,
		TopicBase: a.broker.topicBase,
		Timeout:   a.timeout,
	})
	if err != nil {
		return nil, core.WrapError(core.ExitUpstream, "connect broker", err)
	}
	return client, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/koron/go-ssdp"
	"go.uber.org/zap"

	"github.com/mikey-austin/plex_dlna/internal/adapters/catalogmux"
	"github.com/mikey-austin/plex_dlna/internal/adapters/mqttserver"
	"github.com/mikey-austin/plex_dlna/internal/adapters/plex"
	"github.com/mikey-austin/plex_dlna/internal/adapters/podcast"
	"github.com/mikey-austin/plex_dlna/internal/adapters/state"
	"github.com/mikey-austin/plex_dlna/internal/contentdir"
	"github.com/mikey-austin/plex_dlna/internal/description"
	"github.com/mikey-austin/plex_dlna/internal/dlnad"
	embeddedmqtt "github.com/mikey-austin/plex_dlna/internal/modules/embedded_mqtt"
	mediaserver "github.com/mikey-austin/plex_dlna/internal/modules/media_server"
	ssdppresence "github.com/mikey-austin/plex_dlna/internal/modules/ssdp_presence"
	"github.com/mikey-austin/plex_dlna/internal/registry"
	"github.com/mikey-austin/plex_dlna/internal/stream"
	"github.com/mikey-austin/plex_dlna/pkg/events"
)

type overrides struct {
	listen       string
	friendlyName string
	hostIP       string
	plexURL      string
	logLevel     string
	logFormat    string
	logOutput    string
	logSource    bool
	logUTC       bool
	logColor     bool
	metrics      bool
	noSSDP       bool
}

// identity is how renderers find and address this server.
type identity struct {
	UUID     string
	BaseURL  string
	Location string
}

func main() {
	var (
		configPath  string
		envFile     string
		printConfig bool
		dryRun      bool
		ov          overrides
	)

	defaultConfig, err := dlnad.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file with secrets")
	flag.StringVar(&ov.listen, "listen", "", "HTTP listen address override")
	flag.StringVar(&ov.friendlyName, "friendly-name", "", "device friendly name override")
	flag.StringVar(&ov.hostIP, "host-ip", "", "advertised host IP override")
	flag.StringVar(&ov.plexURL, "plex-url", "", "Plex server URL override")
	flag.StringVar(&ov.logLevel, "log-level", "", "log level override")
	flag.StringVar(&ov.logFormat, "log-format", "", "log format override (text|json)")
	flag.StringVar(&ov.logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&ov.logSource, "log-source", false, "include source file in logs")
	flag.BoolVar(&ov.logUTC, "log-utc", false, "use UTC timestamps in logs")
	flag.BoolVar(&ov.logColor, "log-color", false, "enable colored log output (text only)")
	flag.BoolVar(&ov.metrics, "metrics", false, "serve /metrics")
	flag.BoolVar(&ov.noSSDP, "no-ssdp", false, "disable SSDP announcements")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	explicitConfig := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicitConfig = true
		}
	})
	cfg, err := loadConfig(configPath, explicitConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := dlnad.ApplyEnv(&cfg, envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, ov)

	if printConfig {
		if err := printResolvedConfig(os.Stdout, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if dryRun {
		return
	}

	logger := dlnad.NewLogger(dlnad.LogConfig{
		Level:     cfg.Server.LogLevel,
		Format:    cfg.Server.LogFormat,
		Output:    cfg.Server.LogOutput,
		AddSource: cfg.Server.LogSource,
		UTC:       cfg.Server.LogUTC,
		Color:     cfg.Server.LogColor,
	})
	defer func() { _ = logger.Sync() }()
	ssdp.Logger = zap.NewStdLog(logger.Named("ssdp"))

	if err := run(cfg, logger); err != nil {
		logger.Error("plexdlnad failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg dlnad.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := state.NewStore(cfg.Server.StatePath)
	if err != nil {
		return err
	}
	ident, err := resolveIdentity(cfg, store.DeviceUUID, dlnad.HostIP)
	if err != nil {
		return err
	}
	version, commit := dlnad.BuildVersion()
	logger.Info("plexdlnad starting",
		zap.String("friendly_name", cfg.Server.FriendlyName),
		zap.String("uuid", ident.UUID),
		zap.String("location", ident.Location),
		zap.String("listen", cfg.Server.Listen),
		zap.Bool("plex", cfg.Plex.Enabled),
		zap.Bool("podcasts", cfg.Podcasts.Enabled),
		zap.Bool("ssdp", cfg.SSDP.Enabled),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.String("commit", commit),
	)

	// The broker outlives the supervised modules so the offline presence
	// published on shutdown is still delivered.
	brokerCtx, stopBroker := context.WithCancel(context.Background())
	defer stopBroker()

	var sink mqttserver.Sink
	if cfg.Events.Enabled {
		embeddedURL := embeddedBrokerURL(cfg)
		if cfg.Events.Embedded.Enabled && cfg.Events.Broker == embeddedURL {
			broker, err := startEmbeddedBroker(ctx, brokerCtx, cfg, logger, cancel)
			if err != nil {
				return fmt.Errorf("embedded mqtt: %w", err)
			}
			sink = broker
		} else {
			client, err := connectBroker(cfg, ident, logger)
			if err != nil {
				return fmt.Errorf("mqtt connection: %w", err)
			}
			defer client.Close()
			sink = client
		}
	}

	modules, err := buildModules(cfg, ident, version, sink, logger)
	if err != nil {
		return fmt.Errorf("build modules: %w", err)
	}

	supervisor := dlnad.Supervisor{Logger: logger}
	return supervisor.Run(ctx, modules)
}

func loadConfig(path string, explicit bool) (dlnad.Config, error) {
	cfg, err := dlnad.LoadConfig(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return dlnad.DefaultConfig(), nil
		}
		return dlnad.Config{}, err
	}
	return cfg, nil
}

func applyOverrides(cfg *dlnad.Config, ov overrides) {
	if ov.listen != "" {
		cfg.Server.Listen = ov.listen
	}
	if ov.friendlyName != "" {
		cfg.Server.FriendlyName = ov.friendlyName
	}
	if ov.hostIP != "" {
		cfg.Server.HostIP = ov.hostIP
	}
	if ov.plexURL != "" {
		cfg.Plex.URL = ov.plexURL
		cfg.Plex.Enabled = true
	}
	if ov.logLevel != "" {
		cfg.Server.LogLevel = ov.logLevel
	}
	if ov.logFormat != "" {
		cfg.Server.LogFormat = ov.logFormat
	}
	if ov.logOutput != "" {
		cfg.Server.LogOutput = ov.logOutput
	}
	if ov.logSource {
		cfg.Server.LogSource = true
	}
	if ov.logUTC {
		cfg.Server.LogUTC = true
	}
	if ov.logColor {
		cfg.Server.LogColor = true
	}
	if ov.metrics {
		cfg.Metrics.Enabled = true
	}
	if ov.noSSDP {
		cfg.SSDP.Enabled = false
	}
	if cfg.Events.TopicBase == "" {
		cfg.Events.TopicBase = events.BaseTopic
	}
	cfg.ApplyDefaults()
}

func resolveIdentity(cfg dlnad.Config, deviceUUID func(string) (string, error), hostIP func() (string, error)) (identity, error) {
	id := strings.TrimSpace(cfg.Server.UUID)
	if id == "" {
		var err error
		id, err = deviceUUID(cfg.Server.FriendlyName)
		if err != nil {
			return identity{}, fmt.Errorf("device uuid: %w", err)
		}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	if base == "" {
		ip := cfg.Server.HostIP
		if ip == "" {
			detected, err := hostIP()
			if err == nil {
				ip = detected
			}
		}
		var err error
		base, err = dlnad.AdvertisedBase(cfg.Server.Listen, ip)
		if err != nil {
			return identity{}, fmt.Errorf("advertised address: %w (set [server] host_ip)", err)
		}
	}
	return identity{UUID: id, BaseURL: base, Location: base + "/description.xml"}, nil
}

func buildCatalog(cfg dlnad.Config, ident identity, version string, logger *zap.Logger) (*catalogmux.Mux, error) {
	httpClient := &http.Client{}
	mounts := []catalogmux.Mount{}
	if cfg.Plex.Enabled {
		clientID := cfg.Plex.ClientID
		if clientID == "" {
			clientID = ident.UUID
		}
		client, err := plex.NewClient(logger.With(zap.String("module", "plex")), httpClient, plex.Config{
			BaseURL:       cfg.Plex.URL,
			Token:         cfg.Plex.Token,
			ClientID:      clientID,
			Version:       version,
			DeviceName:    cfg.Server.FriendlyName,
			Timeout:       time.Duration(cfg.Plex.TimeoutMS) * time.Millisecond,
			MaxConcurrent: cfg.Plex.MaxConcurrent,
			CacheSize:     cfg.Plex.CacheSizeMB << 20,
			CacheTTL:      time.Duration(cfg.Plex.CacheTTLMS) * time.Millisecond,
			CacheCompress: cfg.Plex.CacheCompress,
			ArtSize:       cfg.Plex.ArtSize,
		})
		if err != nil {
			return nil, err
		}
		catalog := plex.NewCatalog(client, cfg.Plex.Title)
		mounts = append(mounts, catalogmux.Mount{Name: "plex", Title: cfg.Plex.Title, Catalog: catalog})
	}
	if cfg.Podcasts.Enabled {
		catalog, err := podcast.NewCatalog(logger.With(zap.String("module", "podcasts")), httpClient, podcast.Config{
			Title:             cfg.Podcasts.Title,
			Feeds:             cfg.Podcasts.Feeds,
			RefreshInterval:   time.Duration(cfg.Podcasts.RefreshMinutes) * time.Minute,
			CacheDir:          cfg.Podcasts.CacheDir,
			Timeout:           time.Duration(cfg.Podcasts.TimeoutMS) * time.Millisecond,
			UserAgent:         cfg.Podcasts.UserAgent,
			ReverseSortByDate: cfg.Podcasts.ReverseSortByDate,
		})
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, catalogmux.Mount{Name: "podcasts", Title: cfg.Podcasts.Title, Catalog: catalog})
	}
	return catalogmux.New(mounts...)
}

func buildModules(cfg dlnad.Config, ident identity, version string, sink mqttserver.Sink, logger *zap.Logger) ([]dlnad.ModuleRunner, error) {
	catalog, err := buildCatalog(cfg, ident, version, logger)
	if err != nil {
		return nil, err
	}
	reg := registry.New(catalog.Root())
	metrics := mediaserver.NewMetrics()
	sinkEvents := mediaserver.NewMeteredEvents(metrics, nil)

	modules := []dlnad.ModuleRunner{}
	if sink != nil {
		publisher, err := mqttserver.NewPublisher(logger.With(zap.String("module", "events")), sink, publisherConfig(cfg, ident))
		if err != nil {
			return nil, err
		}
		sinkEvents.SetNext(publisher)
		modules = append(modules, dlnad.ModuleRunner{Name: "events", Run: publisher.Run})
	}

	engine, err := contentdir.New(logger.With(zap.String("module", "contentdir")), catalog, reg, contentdir.Config{
		Events:         sinkEvents,
		CatalogTimeout: time.Duration(cfg.Stream.CatalogTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	proxy := stream.NewProxy(logger.With(zap.String("module", "stream")), catalog, reg, stream.Config{
		HeaderTimeout: time.Duration(cfg.Stream.HeaderTimeoutMS) * time.Millisecond,
		IdleTimeout:   time.Duration(cfg.Stream.IdleTimeoutMS) * time.Millisecond,
		BufferSize:    cfg.Stream.BufferKB << 10,
		IDFunc:        mediaserver.RouteID,
		Events:        sinkEvents,
	})

	server, err := mediaserver.NewModule(logger.With(zap.String("module", "media_server")), engine, proxy, reg, metrics, mediaserver.Config{
		Listen:  cfg.Server.Listen,
		BaseURL: ident.BaseURL,
		Device: description.Device{
			UUID:            ident.UUID,
			FriendlyName:    cfg.Server.FriendlyName,
			ModelNumber:     version,
			SerialNumber:    ident.UUID,
			PresentationURL: ident.BaseURL + "/healthz",
		},
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutMS) * time.Millisecond,
		EnableMetrics:   cfg.Metrics.Enabled,
	})
	if err != nil {
		return nil, err
	}
	modules = append(modules, dlnad.ModuleRunner{Name: "media_server", Run: server.Run})

	if cfg.SSDP.Enabled {
		presence, err := ssdppresence.NewModule(logger.With(zap.String("module", "ssdp_presence")), ssdppresence.Config{
			UUID:          ident.UUID,
			Location:      ident.Location,
			Server:        serverHeader(version),
			MaxAge:        cfg.SSDP.MaxAge,
			AliveInterval: time.Duration(cfg.SSDP.AliveIntervalS) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, dlnad.ModuleRunner{Name: "ssdp_presence", Run: presence.Run})
	}
	return modules, nil
}

func publisherConfig(cfg dlnad.Config, ident identity) mqttserver.PublisherConfig {
	return mqttserver.PublisherConfig{
		TopicBase:    cfg.Events.TopicBase,
		DeviceID:     ident.UUID,
		FriendlyName: cfg.Server.FriendlyName,
		Location:     ident.Location,
		QueueSize:    cfg.Events.QueueSize,
	}
}

func serverHeader(version string) string {
	return fmt.Sprintf("%s/1.0 UPnP/1.0 plexdlna/%s", runtime.GOOS, version)
}

func connectBroker(cfg dlnad.Config, ident identity, logger *zap.Logger) (*mqttserver.Client, error) {
	willTopic, willPayload := mqttserver.OfflinePresence(publisherConfig(cfg, ident))
	clientID := cfg.Events.ClientID
	if clientID == "" {
		clientID = "plexdlnad-" + ident.UUID
	}
	user, pass := cfg.Events.Auth.User, cfg.Events.Auth.Pass
	if user == "" && cfg.Events.Embedded.Enabled {
		user, pass = cfg.Events.Embedded.Username, cfg.Events.Embedded.Password
	}
	return mqttserver.NewClient(mqttserver.Options{
		BrokerURL:   cfg.Events.Broker,
		ClientID:    clientID,
		Username:    user,
		Password:    pass,
		TLSCA:       cfg.Events.TLS.CA,
		TLSCert:     cfg.Events.TLS.Cert,
		TLSKey:      cfg.Events.TLS.Key,
		Timeout:     2 * time.Second,
		Logger:      logger.With(zap.String("module", "mqtt")),
		WillTopic:   willTopic,
		WillPayload: willPayload,
	})
}

func printResolvedConfig(w io.Writer, cfg dlnad.Config) error {
	if cfg.Plex.Token != "" {
		cfg.Plex.Token = "<redacted>"
	}
	if cfg.Events.Auth.Pass != "" {
		cfg.Events.Auth.Pass = "<redacted>"
	}
	if cfg.Events.Embedded.Password != "" {
		cfg.Events.Embedded.Password = "<redacted>"
	}
	return toml.NewEncoder(w).Encode(cfg)
}

func embeddedBrokerURL(cfg dlnad.Config) string {
	listen := cfg.Events.Embedded.Listen
	if listen == "" {
		listen = "127.0.0.1:1883"
	}
	return embeddedmqtt.BrokerURL(listen, cfg.Events.Embedded.TLSEnabled())
}

func startEmbeddedBroker(ctx, brokerCtx context.Context, cfg dlnad.Config, logger *zap.Logger, cancel context.CancelFunc) (*embeddedmqtt.Module, error) {
	mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedmqtt.Config{
		Listen:         cfg.Events.Embedded.Listen,
		AllowAnonymous: cfg.Events.Embedded.AllowAnonymous,
		Username:       cfg.Events.Embedded.Username,
		Password:       cfg.Events.Embedded.Password,
		TopicBase:      cfg.Events.TopicBase,
		TLSCA:          cfg.Events.Embedded.TLSCA,
		TLSCert:        cfg.Events.Embedded.TLSCert,
		TLSKey:         cfg.Events.Embedded.TLSKey,
	})
	if err != nil {
		return nil, err
	}
	go func() {
		if err := mod.Run(brokerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()

	select {
	case <-mod.Ready():
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(3 * time.Second):
		return nil, errors.New("embedded mqtt not ready")
	}
	if err := mod.Err(); err != nil {
		return nil, err
	}
	return mod, nil
}

// wirehome - one-wire home automation daemon
//
// wirehome polls one-wire sensor boards (door contacts, PIRs, wall
// switches, temperature and humidity probes), runs the alarm, lighting and
// climate rules, and drives relay boards. MQTT, InfluxDB, the SQLite
// journal and the HTTP API are optional collaborators around that core.
//
// Usage:
//
//	wirehome [-config path]                 run the daemon
//	wirehome credential add|list|remove|enable|disable ...
//	wirehome token -subject name [-ttl 720h]
//	wirehome version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/wirehome/internal/access"
	"github.com/nerrad567/wirehome/internal/api"
	"github.com/nerrad567/wirehome/internal/audit"
	"github.com/nerrad567/wirehome/internal/automation"
	"github.com/nerrad567/wirehome/internal/bridge"
	"github.com/nerrad567/wirehome/internal/bus"
	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/dispatch"
	"github.com/nerrad567/wirehome/internal/eventbus"
	"github.com/nerrad567/wirehome/internal/exporter"
	"github.com/nerrad567/wirehome/internal/infrastructure/config"
	"github.com/nerrad567/wirehome/internal/infrastructure/database"
	"github.com/nerrad567/wirehome/internal/infrastructure/influxdb"
	"github.com/nerrad567/wirehome/internal/infrastructure/logging"
	"github.com/nerrad567/wirehome/internal/infrastructure/mqtt"
	"github.com/nerrad567/wirehome/internal/metrics"
	"github.com/nerrad567/wirehome/internal/poller"
	"github.com/nerrad567/wirehome/internal/remote"
	"github.com/nerrad567/wirehome/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute routes to a subcommand or runs the daemon.
func execute(ctx context.Context, args []string, out io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "credential":
			return runCredential(ctx, args[1:], out)
		case "token":
			return runToken(args[1:], out)
		case "version":
			fmt.Fprintf(out, "wirehome %s (commit %s, built %s)\n", version, commit, date)
			return nil
		}
	}

	fs := flag.NewFlagSet("wirehome", flag.ContinueOnError)
	configFlag := fs.String("config", "", "config file (default $WIREHOME_CONFIG or "+defaultConfigPath+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return run(ctx, getConfigPath(*configFlag))
}

// getConfigPath returns the flag value, then WIREHOME_CONFIG, then the
// default path.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("WIREHOME_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the daemon, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown; configuration, startup and fatal
//     engine errors (automation.ErrUnknownChannel) otherwise
func run(ctx context.Context, configPath string) error { //nolint:gocognit,funlen // linear startup sequence
	log := logging.Default()
	log.Info("starting wirehome", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing to report to
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID, "devices", len(cfg.Devices))

	devs, err := cfg.DeviceList()
	if err != nil {
		return fmt.Errorf("building device list: %w", err)
	}

	m := metrics.New()

	events := eventbus.New()
	events.SetLogger(log.Component("eventbus"))
	events.SetObserver(m)

	registry := device.NewRegistry()
	registry.SetLogger(log.Component("registry"))
	registry.SetPublisher(events)
	for _, d := range devs {
		if err := registry.Register(d); err != nil {
			return fmt.Errorf("registering device %s: %w", d.ID, err)
		}
	}
	log.Info("device registry initialised", "devices", len(devs), "roles", len(registry.Roles()))

	transport, attach := newTransport(cfg, devs)
	driver := bus.NewDriver(transport, cfg.BusSettings(),
		bus.WithHealthSink(registry),
		bus.WithObserver(m),
		bus.WithLogger(log.Component("bus")),
	)

	// Optional store: journal and credentials.
	var (
		journalRepo audit.Repository
		checkers    = []access.Checker{automation.StaticCredentials(cfg.Automation.Credentials)}
	)
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		journalRepo = audit.NewSQLiteRepository(db.DB)
		checkers = append(checkers, access.NewStore(db.DB))
		log.Info("database ready", "path", cfg.Database.Path)
	}

	dispatcher := dispatch.New(driver, registry, events, cfg.DispatchSettings(),
		dispatch.WithLogger(log.Component("dispatch")),
		dispatch.WithObserver(m),
	)

	engine, err := automation.NewEngine(cfg.EngineSettings(), registry, dispatcher, events, access.AnyOf(checkers...),
		automation.WithLogger(log.Component("automation")),
		automation.WithQueueCapacity(cfg.EventBus.Capacity),
	)
	if err != nil {
		return fmt.Errorf("creating rule engine: %w", err)
	}

	scanner := poller.New(driver, registry, events, cfg.PollerSettings(),
		poller.WithLogger(log.Component("poller")),
		poller.WithObserver(m),
	)

	injector := remote.NewInjector(events, registry)
	capacity := cfg.EventBus.Capacity

	// Collaborators subscribe before polling starts so they see the
	// initial readings.
	auxCtx, auxCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer auxCancel()
	aux, auxCtx := errgroup.WithContext(auxCtx)

	healthSub := events.Subscribe("metrics", capacity, eventbus.KindDeviceHealthChanged)
	aux.Go(func() error {
		m.TrackHealth(auxCtx, registry, healthSub)
		return nil
	})

	if journalRepo != nil {
		journal := audit.NewJournal(journalRepo, audit.WithLogger(log.Component("journal")))
		sub := events.Subscribe("journal", capacity, audit.JournalKinds...)
		aux.Go(func() error {
			journal.Run(auxCtx, sub)
			return nil
		})
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })

		br := bridge.New(mqttClient, injector, bridge.WithLogger(log.Component("bridge")))
		if err := br.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		sub := events.Subscribe("mqtt-bridge", capacity, bridge.OutboundKinds...)
		aux.Go(func() error {
			br.Run(auxCtx, sub)
			return nil
		})
		log.Info("MQTT bridge started",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", mqttClient.Topics().Prefix,
		)
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		exp := exporter.New(influxClient, registry)
		sub := events.Subscribe("influxdb", capacity, exporter.Kinds...)
		aux.Go(func() error {
			exp.Run(auxCtx, sub)
			return nil
		})
		log.Info("InfluxDB exporter started", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			Devices:  registry,
			Alarm:    engine,
			Commands: injector,
			Events:   events,
			Journal:  journalRepo,
			Metrics:  m.Handler(),
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(auxCtx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		if cfg.API.JWTSecret == "" {
			log.Warn("api.jwt_secret is empty; command endpoints are unauthenticated")
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Core: poller and engine on separate contexts so shutdown can stop
	// them in order.
	pollCtx, pollCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer pollCancel()
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		scanner.Run(pollCtx) //nolint:errcheck // returns nil on cancellation
	}()

	engineCtx, engineCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer engineCancel()
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(engineCtx)
	}()

	reloadCtx, reloadCancel := context.WithCancel(ctx)
	defer reloadCancel()
	go reloadOnHangup(reloadCtx, configPath, cfg.EngineSettings(), registry, attach, log)

	log.Info("initialisation complete", "segments", len(cfg.Segments), "backend", cfg.Bus.Backend)

	var fatal error
	engineStopped := false
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case fatal = <-engineDone:
		engineStopped = true
		log.Error("rule engine stopped", "error", fatal)
	}

	// Shutdown order: inbound API, pollers, engine, dispatcher, collaborators.
	if server != nil {
		if err := server.Close(); err != nil {
			log.Error("error closing API server", "error", err)
		}
	}
	pollCancel()
	<-pollDone
	engineCancel()
	if !engineStopped {
		if err := <-engineDone; err != nil && fatal == nil {
			fatal = err
		}
	}

	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.Dispatch.ShutdownGrace)
	if err := dispatcher.Shutdown(graceCtx); err != nil {
		log.Warn("dispatcher shutdown incomplete", "error", err)
	}
	graceCancel()

	auxCancel()
	if err := aux.Wait(); err != nil {
		log.Warn("collaborator stopped with error", "error", err)
	}

	if fatal != nil {
		return fmt.Errorf("rule engine: %w", fatal)
	}
	log.Info("wirehome stopped")
	return nil
}

// newTransport builds the configured bus backend. The returned attach
// function makes newly configured devices visible on the memory bus; it is
// a no-op for sysfs, where the kernel enumerates devices.
func newTransport(cfg *config.Config, devs []device.Device) (bus.Transport, func([]device.Device)) {
	if cfg.Bus.Backend == config.BackendMemory {
		mem := bus.NewMemoryTransport()
		attach := func(devs []device.Device) {
			for _, d := range devs {
				if mem.Payload(d.Address) == nil {
					mem.Attach(d.Address, nil)
				}
			}
		}
		attach(devs)
		return mem, attach
	}
	return bus.NewSysfsTransport(cfg.Bus.W1Root), func([]device.Device) {}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// reloadOnHangup reconciles the registry with the device list on SIGHUP.
// Other sections need a restart, so the running rules are checked against
// the new device list.
func reloadOnHangup(ctx context.Context, path string, rules automation.Config, registry *device.Registry, attach func([]device.Device), log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reloadDevices(path, rules, registry, attach); err != nil {
				log.Error("device reload failed; keeping current devices", "error", err)
				continue
			}
			log.Info("device reload complete", "devices", len(registry.Devices()))
		}
	}
}

// reloadDevices swaps in the device list from path. A list that drops or
// retypes a role the running rules use is refused and the registry is
// left unchanged.
func reloadDevices(path string, rules automation.Config, registry *device.Registry, attach func([]device.Device)) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	devs, err := cfg.DeviceList()
	if err != nil {
		return err
	}

	staged := device.NewRegistry()
	if _, _, err := staged.Reconcile(devs); err != nil {
		return err
	}
	if err := rules.Validate(staged); err != nil {
		return fmt.Errorf("device list does not satisfy running rules: %w", err)
	}

	attach(devs)
	_, _, err = registry.Reconcile(devs)
	return err
}

// healthCheck verifies the optional collaborators answer.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second) //nolint:mnd // startup check bound
	defer cancel()

	var errs []error
	if db != nil {
		if err := db.HealthCheck(checkCtx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(checkCtx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(checkCtx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	return errors.Join(errs...)
}

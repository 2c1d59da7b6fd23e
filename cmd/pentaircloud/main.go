// pentaircloud - Pentair cloud pool equipment control
//
// This is the main entry point for the pentaircloud service. It signs in to
// the Pentair cloud, discovers the account's pool controllers and exposes
// their pump, heater, light and thermostat controls through:
//   - an HTTP/WebSocket API (/api/v1)
//   - an MQTT state and command bridge
//
// Every pump speed change and heater switch passes through the safety
// coordinator, which keeps the pump running fast enough while the heater is on.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sony/gobreaker"

	"github.com/nerrad567/pentair-cloud-core/internal/api"
	"github.com/nerrad567/pentair-cloud-core/internal/bridges/pentair"
	"github.com/nerrad567/pentair-cloud-core/internal/climate"
	"github.com/nerrad567/pentair-cloud-core/internal/cloud"
	"github.com/nerrad567/pentair-cloud-core/internal/credentials"
	"github.com/nerrad567/pentair-cloud-core/internal/entity"
	"github.com/nerrad567/pentair-cloud-core/internal/hub"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/config"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/metrics"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pentair-cloud-core/internal/program"
	"github.com/nerrad567/pentair-cloud-core/internal/safety"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// errBreakerOpen marks the bridge degraded while cloud calls are refused.
var errBreakerOpen = errors.New("pentair cloud circuit breaker open")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command line flags.
type options struct {
	configPath   string
	hashAPIKey   bool
	listPrograms bool
	args         []string
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("pentaircloud", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", getConfigPath(), "path to the YAML configuration file")
	fs.BoolVar(&opts.hashAPIKey, "hash-api-key", false, "print an argon2id hash for api.api_key_hash (hashes the argument, or a new random key)")
	fs.BoolVar(&opts.listPrograms, "list-programs", false, "sign in, print each device's manual programs and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.args = fs.Args()
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//   - stdout: Destination of the -hash-api-key and -list-programs output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}
	if opts.hashAPIKey {
		var key string
		if len(opts.args) > 0 {
			key = opts.args[0]
		}
		return printAPIKeyHash(stdout, key)
	}

	log := logging.Default()
	log.Info("starting pentaircloud",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	m := metrics.New()
	core, err := newCore(ctx, cfg, log, m)
	if err != nil {
		return err
	}

	if opts.listPrograms {
		if err := core.hub.Startup(ctx, cfg.Cloud.Username, cfg.Cloud.Password, cfg.Startup.MaxElapsed); err != nil {
			return err
		}
		return printPrograms(stdout, core.hub.Devices())
	}

	return serve(ctx, cfg, log, m, core)
}

// core is the cloud side of the service.
type core struct {
	creds *credentials.Manager
	cloud *cloud.Client
	hub   *hub.Hub
}

// newCore builds the credential manager, the cloud client and the hub. No
// remote call is made except fetching the user pool keys when ID token
// verification is enabled.
func newCore(ctx context.Context, cfg *config.Config, log *logging.Logger, m *metrics.Metrics) (*core, error) {
	httpClient := &http.Client{Timeout: cfg.Cloud.Timeout}

	var verifier credentials.Verifier
	if cfg.Cloud.VerifyIDToken {
		v, err := credentials.NewUserPoolVerifier(ctx, cfg.Cloud.Region, cfg.Cloud.UserPoolID, cfg.Cloud.ClientID)
		if err != nil {
			return nil, fmt.Errorf("loading user pool keys: %w", err)
		}
		verifier = v
		log.Info("id token verification enabled", "user_pool_id", cfg.Cloud.UserPoolID)
	}

	creds, err := credentials.NewManager(credentials.ManagerOptions{
		Provider: credentials.NewCognitoProvider(cfg.Cloud, httpClient),
		Verifier: verifier,
		Logger:   log.Component("credentials"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating credential manager: %w", err)
	}

	cloudClient, err := cloud.New(cloud.Options{
		Endpoint:        cfg.Cloud.Endpoint,
		Region:          cfg.Cloud.Region,
		HTTPClient:      httpClient,
		MaxFailures:     cfg.Cloud.Breaker.MaxFailures,
		OpenTimeout:     cfg.Cloud.Breaker.OpenTimeout,
		OnBreakerChange: breakerListener(log, m),
		Logger:          log.Component("cloud"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating cloud client: %w", err)
	}

	h, err := hub.New(hub.Options{
		Credentials:  creds,
		Cloud:        cloudClient,
		MinInterval:  cfg.Poll.MinInterval,
		ScanInterval: cfg.Poll.ScanInterval,
		Logger:       log.Component("hub"),
		Metrics:      m,
	})
	if err != nil {
		return nil, fmt.Errorf("creating hub: %w", err)
	}
	creds.SetOnTokenChange(h.TokenChanged)

	return &core{creds: creds, cloud: cloudClient, hub: h}, nil
}

func breakerListener(log *logging.Logger, m *metrics.Metrics) func(from, to gobreaker.State) {
	return func(from, to gobreaker.State) {
		log.Warn("cloud circuit breaker changed", "from", from.String(), "to", to.String())
		m.BreakerChanged(from, to)
	}
}

// serve wires the safety, entity, climate, API and MQTT layers around the
// hub and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *logging.Logger, m *metrics.Metrics, c *core) error { //nolint:gocognit,gocyclo // linear wiring of every component
	mapper, err := program.New(cfg.Programs)
	if err != nil {
		return fmt.Errorf("programs: %w", err)
	}

	// Notification targets are filled in once the API and bridge exist.
	var targets safety.MultiNotifier
	notifier := safety.NotifierFunc(func(n safety.Notification) {
		m.NotificationRaised(n.ID)
		targets.Notify(n)
	})

	safetyGroup := safety.NewGroup(safety.Options{
		Commander:      c.hub,
		Mapper:         mapper,
		Notifier:       notifier,
		Metrics:        m,
		Logger:         log.Component("safety"),
		MinHeaterSpeed: cfg.Safety.MinHeaterSpeed,
		Debounce:       cfg.Safety.Debounce,
		StopGap:        cfg.Safety.StopGap,
		SettleDelay:    cfg.Safety.SettleDelay,
		PumpStartDelay: cfg.Safety.PumpStartDelay,
	})
	defer func() {
		log.Info("closing safety coordinators")
		safetyGroup.Close()
	}()

	entities, err := entity.NewDirectory(c.hub, mapper, func(id string) (entity.Safety, error) {
		sc, err := safetyGroup.For(id)
		if err != nil {
			return nil, err
		}
		return sc, nil
	})
	if err != nil {
		return fmt.Errorf("creating entity directory: %w", err)
	}

	var thermostats *climate.Group
	if cfg.Climate.Enabled {
		thermostats = climate.NewGroup(climate.Options{
			Target:     cfg.Climate.Target,
			MinTemp:    cfg.Climate.MinTemp,
			MaxTemp:    cfg.Climate.MaxTemp,
			Hysteresis: cfg.Climate.Hysteresis,
			Unit:       cfg.Climate.Unit,
			Logger:     log.Component("climate"),
		}, func(id string) (climate.Heater, error) {
			sc, err := safetyGroup.For(id)
			if err != nil {
				return nil, err
			}
			return sc, nil
		})
		log.Info("pool thermostat enabled", "target", cfg.Climate.Target, "sensor", mapper.TemperatureSensor())
	}

	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Metrics:  cfg.Metrics,
		Logger:   log.Component("api"),
		Core:     c.hub,
		Entities: entities,
		Session:  c.creds,
		Version:  version,
	}
	if thermostats != nil {
		apiDeps.Climate = thermostats
	}
	if cfg.Metrics.Enabled {
		apiDeps.MetricsHandler = m.Handler()
		apiDeps.Recorder = m
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	m.WatchDropped(apiServer.Hub().Dropped)
	targets = append(targets, safety.LogNotifier{Logger: log.Component("notify")}, apiServer)

	var bridge *pentair.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridgeOpts := pentair.Options{
			Client:   mqttClient,
			Topics:   mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix},
			Entities: entities,
			Devices:  c.hub,
			Cloud: func() error {
				if c.cloud.BreakerState() == gobreaker.StateOpen {
					return errBreakerOpen
				}
				return nil
			},
			Version: version,
			QoS:     byte(cfg.MQTT.QoS),
			Logger:  log.Component("bridge"),
		}
		if thermostats != nil {
			bridgeOpts.Climate = thermostats
			bridgeOpts.TemperatureTopic = mapper.TemperatureSensor()
		}
		bridge, err = pentair.New(bridgeOpts)
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		targets = append(targets, bridge)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing state")
			bridge.PublishAll()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT bridge disabled")
	}

	// Listener order matters: the interlock and thermostat must see a poll
	// before the state is published.
	c.hub.OnChange(safetyGroup.Observe)
	if thermostats != nil {
		c.hub.OnChange(thermostats.Observe)
	}
	if bridge != nil {
		c.hub.OnChange(bridge.Observe)
	}
	c.hub.OnChange(apiServer.Observe)

	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := c.hub.Startup(ctx, cfg.Cloud.Username, cfg.Cloud.Password, cfg.Startup.MaxElapsed); err != nil {
		return err
	}
	log.Info("pentair cloud session started", "devices", len(c.hub.Devices()))

	if bridge != nil {
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
	}

	if err := c.hub.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer func() {
		log.Info("stopping scheduler")
		c.hub.Stop()
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns the configuration file path.
// Uses PENTAIRCLOUD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PENTAIRCLOUD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

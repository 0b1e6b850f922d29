// Package app assembles a version manager and its backends from settings.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/entity"
	"github.com/aquamarinepk/vstore/events"
	"github.com/aquamarinepk/vstore/lock/redislock"
	"github.com/aquamarinepk/vstore/seed"
	"github.com/aquamarinepk/vstore/store/memstore"
	"github.com/aquamarinepk/vstore/store/mongostore"
	"github.com/aquamarinepk/vstore/store/pgstore"
	"github.com/aquamarinepk/vstore/telemetry"
	"github.com/aquamarinepk/vstore/version"
)

const (
	Namespace   = "VSTORE"
	ServiceName = "vstore"
)

// App holds the wired manager plus every backend that needs closing.
type App struct {
	Settings vstore.Settings
	Deps     *vstore.Deps
	Manager  *version.Manager
	Metrics  *telemetry.Prometheus
	Bus      *events.Bus

	store   version.Store
	pg      *pgstore.Store
	mongo   *vstore.MongoClient
	tracker seed.Tracker

	// components are stopped in reverse order by Close.
	components []any
}

// New loads the settings from cfg and opens the configured store, locker and
// event sink. Backends opened before a failure are closed again.
func New(ctx context.Context, cfg *vstore.Config, log vstore.Logger) (_ *App, err error) {
	if log == nil {
		log = vstore.NewNoopLogger()
	}
	settings, err := vstore.LoadSettings(cfg)
	if err != nil {
		return nil, err
	}
	reg, err := entity.LoadDefinitions(settings.Definitions.File)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewPrometheus(ServiceName)
	app := &App{
		Settings: settings,
		Metrics:  metrics,
		Deps: &vstore.Deps{
			Logger:  log,
			Config:  cfg,
			Metrics: metrics,
			Tracer:  vstore.LogTracer{Logger: log},
			Errors:  vstore.LogErrorReporter{Logger: log},
			PubSub:  vstore.NoopPubSub{},
		},
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}
	locker, err := app.openLocker()
	if err != nil {
		return nil, err
	}
	notifiers, err := app.openEvents(ctx)
	if err != nil {
		return nil, err
	}

	app.Manager, err = version.NewManager(app.store, reg,
		version.WithDeps(app.Deps),
		version.WithLocker(locker),
		version.WithNotifier(notifiers...),
	)
	if err != nil {
		return nil, err
	}
	log.Info("version manager ready",
		"store", settings.Store.Driver,
		"lock", settings.Lock.Driver,
		"events", settings.Events.Driver,
		"entities", len(reg.Names()),
	)
	return app, nil
}

func (a *App) openStore(ctx context.Context) error {
	s := a.Settings.Store
	switch s.Driver {
	case vstore.DriverMemory:
		a.store = memstore.New()
		a.tracker = seed.NewMemoryTracker()
	case vstore.DriverPostgres:
		pg, err := pgstore.Open(ctx, s.Postgres.DSN)
		if err != nil {
			return err
		}
		a.pg = pg
		a.store = pg
		a.tracker = seed.NewMemoryTracker()
		a.components = append(a.components, pg)
	case vstore.DriverMongo:
		client, err := vstore.NewMongoClient(ctx, vstore.MongoConfig{URI: s.Mongo.URI, Database: s.Mongo.Database})
		if err != nil {
			return err
		}
		a.mongo = client
		a.components = append(a.components, client)
		ms, err := mongostore.New(client.Database())
		if err != nil {
			return err
		}
		if err := ms.EnsureIndexes(ctx); err != nil {
			return err
		}
		a.store = ms
		a.tracker = seed.NewMongoTracker(client.Database())
	default:
		return fmt.Errorf("unknown store driver %q", s.Driver)
	}
	return nil
}

func (a *App) openLocker() (version.Locker, error) {
	l := a.Settings.Lock
	switch l.Driver {
	case vstore.DriverMemory:
		return version.NewMutexLocker(), nil
	case vstore.DriverRedis:
		locker, err := redislock.NewFromURL(l.Redis.URL,
			redislock.WithTTL(l.TTL),
			redislock.WithLogger(a.Deps.Logger.With("component", "redislock")),
		)
		if err != nil {
			return nil, err
		}
		a.components = append(a.components, locker)
		return locker, nil
	}
	return nil, fmt.Errorf("unknown lock driver %q", l.Driver)
}

// openEvents returns the post-commit notifiers. The memory driver publishes
// on an in-process bus with a subscriber that logs every change message.
func (a *App) openEvents(ctx context.Context) ([]version.Notifier, error) {
	e := a.Settings.Events
	switch e.Driver {
	case vstore.DriverNone:
		return nil, nil
	case vstore.DriverMemory:
		a.Bus = events.NewBus()
		a.Deps.PubSub = a.Bus
		log := a.Deps.Logger.With("component", "events")
		subCtx, cancel := context.WithCancel(ctx)
		a.components = append(a.components, vstore.LifecycleHooks{
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
		err := a.Bus.Subscribe(subCtx, e.Topic, func(_ context.Context, data []byte) error {
			msg, err := events.DecodeChange(data)
			if err != nil {
				return err
			}
			log.Debug("change published", "event", msg.Name, "version", msg.VersionID.String(), "changes", len(msg.Changes))
			return nil
		})
		if err != nil {
			return nil, err
		}
		return []version.Notifier{events.NewChangeNotifier(a.Bus, e.Topic)}, nil
	case vstore.DriverKafka:
		pub, err := events.NewKafkaPublisher(e.Kafka.Brokers)
		if err != nil {
			return nil, err
		}
		a.Deps.PubSub = pub
		a.components = append(a.components, pub)
		return []version.Notifier{events.NewChangeNotifier(pub, e.Topic)}, nil
	}
	return nil, fmt.Errorf("unknown events driver %q", e.Driver)
}

// Components lists the opened backends for lifecycle and health registration.
func (a *App) Components() []any {
	return append([]any(nil), a.components...)
}

// Migrate creates the postgres schema. It fails for the other drivers.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		return fmt.Errorf("migrate: store driver %q has no schema", a.Settings.Store.Driver)
	}
	return a.pg.Migrate(ctx)
}

// Seed applies the fixtures file, if one is configured.
func (a *App) Seed(ctx context.Context) error {
	path := a.Settings.Seed.File
	if path == "" {
		return nil
	}
	fixtures, err := seed.LoadFixtures(path)
	if err != nil {
		return err
	}
	seeds, err := seed.FromFixtures(a.Manager, fixtures)
	if err != nil {
		return err
	}
	return seed.Apply(ctx, a.tracker, seeds, ServiceName)
}

// Close stops every opened backend in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs error
	for i := len(a.components) - 1; i >= 0; i-- {
		if s, ok := a.components[i].(vstore.Stoppable); ok {
			errs = errors.Join(errs, s.Stop(ctx))
		}
	}
	a.components = nil
	return errs
}

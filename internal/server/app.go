// Package server assembles the SafeExchange engine: it picks the logger,
// opens persistence and blob storage, wires the services and runs the
// expiration sweeper until shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/auth"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/blobstore"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/config"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/directory"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/notify"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/memory"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/repomanager"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/services"
	"go.uber.org/zap"
)

var (
	openDB     = sql.Open
	newS3Store = func(ctx context.Context, s blobstore.S3Settings) (blobstore.Store, error) {
		return blobstore.NewS3Store(ctx, s)
	}
)

// App owns the wired services. A transport layer calls them directly.
type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	sync     func() error
	notifier *notify.Async

	Groups         *services.GroupMembershipCache
	Authorization  *services.AuthorizationResolver
	AccessRequests *services.AccessRequestWorkflow
	Content        *services.ContentLifecycleManager
	Purge          *services.ExpirationPurgeEngine
	Secrets        *services.SecretService
	Permissions    *services.PermissionService
}

// Options carries the collaborators the engine does not implement itself.
// Nil fields fall back to a static empty directory and a logging notifier.
type Options struct {
	Directory directory.GroupDirectory
	Notifier  notify.Notifier
	Clock     clock.Clock
}

func newLogger(format string) (logging.Logger, func() error, error) {
	switch format {
	case "", "json", "text":
		return logging.NewSlogHandlerLogger(os.Stdout, format, slog.LevelInfo), func() error { return nil }, nil
	case "zap":
		z, err := zap.NewProduction()
		if err != nil {
			return nil, nil, fmt.Errorf("zap init error: %w", err)
		}
		l := logging.NewZapLogger(z.Sugar())
		return l, l.Sync, nil
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}
}

func validate(c *config.Config) error {
	switch {
	case c.TicketSecret == "":
		return errors.New("ticket secret is empty")
	case c.AccessTicketTimeout <= 0:
		return errors.New("access ticket timeout must be positive")
	case c.PurgeSweepInterval <= 0:
		return errors.New("purge sweep interval must be positive")
	case c.GroupSyncInterval <= 0 || c.GroupSyncRetryInterval <= 0:
		return errors.New("group sync intervals must be positive")
	}
	return nil
}

// NewApp builds the engine from c.
func NewApp(ctx context.Context, c *config.Config, opts Options) (*App, error) {
	if err := validate(c); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	logger, syncLog, err := newLogger(c.LogFormat)
	if err != nil {
		return nil, err
	}
	app := &App{config: c, logger: logger, sync: syncLog}

	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Directory == nil {
		opts.Directory = directory.NewStatic(nil)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewRetrying(notify.NewLogNotifier(logger))
	}
	app.notifier = notify.NewAsync(opts.Notifier, logger)

	store, blobs, err := app.openStorage(ctx)
	if err != nil {
		app.close()
		return nil, err
	}

	tickets := auth.NewTicketIssuer([]byte(c.TicketSecret), c.AccessTicketTimeout, opts.Clock)

	app.Groups = services.NewGroupMembershipCache(opts.Directory, opts.Clock, c.GroupSyncInterval, c.GroupSyncRetryInterval, logger)
	app.Authorization = services.NewAuthorizationResolver(store, app.Groups, c.GroupAuthorizationEnabled, logger)
	app.AccessRequests = services.NewAccessRequestWorkflow(store, app.Authorization, app.notifier, opts.Clock, logger)
	app.Content = services.NewContentLifecycleManager(store, blobs, tickets, opts.Clock, logger)
	app.Purge = services.NewExpirationPurgeEngine(store, blobs, opts.Clock, services.PurgeOptions{
		Workers:   c.PurgeWorkers,
		IdleCheck: c.PurgeIdleCheck,
	}, logger)
	app.Secrets = services.NewSecretService(store, app.Authorization, app.Content, app.Purge, opts.Clock, logger)
	app.Permissions = services.NewPermissionService(store, app.Authorization, opts.Clock, logger)

	return app, nil
}

func (app *App) openStorage(ctx context.Context) (services.Store, blobstore.Store, error) {
	c := app.config

	if c.DatabaseDSN == config.MemoryDSN {
		app.logger.Warn(ctx, "using in-memory storage, data is lost on exit")
		mem := memory.NewStore()
		return services.Store{Tx: mem, Repos: mem}, blobstore.NewMemoryStore(), nil
	}

	db, err := openDB("pgx", c.DatabaseDSN)
	if err != nil {
		return services.Store{}, nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db
	if err := db.PingContext(ctx); err != nil {
		return services.Store{}, nil, fmt.Errorf("db ping error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return services.Store{}, nil, fmt.Errorf("migrations error: %w", err)
	}

	blobs, err := newS3Store(ctx, blobstore.S3Settings{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
	})
	if err != nil {
		return services.Store{}, nil, fmt.Errorf("blob store init error: %w", err)
	}

	return services.Store{DB: db, Tx: dbx.NewSQLTransactor(db, nil), Repos: repos}, blobs, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run drives the expiration sweeper until ctx is cancelled or a termination
// signal arrives, then releases storage.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Purge.Run(ctx, app.config.PurgeSweepInterval)
	}()

	wg.Wait()

	app.logger.Info(context.Background(), "Stopping app...")
	app.close()
}

func (app *App) close() {
	if app.notifier != nil {
		app.notifier.Close()
		app.notifier = nil
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(context.Background(), "db close error", "error", err)
		}
		app.db = nil
	}
	if app.sync != nil {
		_ = app.sync()
	}
}

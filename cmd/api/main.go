package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/servicedesk-engine/internal/api/http"
	"github.com/spec-kit/servicedesk-engine/internal/api/http/handlers"
	"github.com/spec-kit/servicedesk-engine/internal/auth"
	"github.com/spec-kit/servicedesk-engine/internal/calendar"
	"github.com/spec-kit/servicedesk-engine/internal/clock"
	"github.com/spec-kit/servicedesk-engine/internal/config"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/events"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/persistence"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	"github.com/spec-kit/servicedesk-engine/internal/service"
	"github.com/spec-kit/servicedesk-engine/internal/worker"
)

// stores groups the repositories the engine runs against.
type stores struct {
	workItems   repository.WorkItemRepository
	policies    repository.PolicyRepository
	deadlines   repository.DeadlineRepository
	fireRecords repository.FireRecordRepository
	configs     repository.BackupConfigRepository
	diversions  repository.DiversionRepository
	logs        repository.ReassignmentLogRepository
	staff       repository.StaffRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profile, err := calendar.LoadProfileFile(cfg.Engine.CalendarFile)
	if err != nil {
		logger.Fatal("failed to load working hours", zap.String("file", cfg.Engine.CalendarFile), zap.Error(err))
	}
	if cfg.Engine.CalendarTimezone != "" {
		loc, err := time.LoadLocation(cfg.Engine.CalendarTimezone)
		if err != nil {
			logger.Fatal("invalid CALENDAR_TIMEZONE", zap.String("timezone", cfg.Engine.CalendarTimezone), zap.Error(err))
		}
		profile.Location = loc
	}

	policies, err := repository.LoadPolicyFile(cfg.Engine.PolicyFile)
	if err != nil {
		logger.Fatal("failed to load sla policies", zap.String("file", cfg.Engine.PolicyFile), zap.Error(err))
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Configured() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), "migrations", logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis, err := persistence.NewRedis(ctx, cfg.Redis, cfg.Engine.RedisFireRecords || cfg.Engine.RedisLocks, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redis.Close()

	st, err := buildStores(ctx, cfg, pg, redis, policies, logger)
	if err != nil {
		logger.Fatal("failed to prepare stores", zap.Error(err))
	}

	var (
		assigneeLocker service.AssigneeLocker = service.NewLocalLocker()
		sweepLock      service.ClusterLock
	)
	if cfg.Engine.RedisLocks {
		redisLocker := persistence.NewRedisLocker(redis.Client, cfg.App.Name+":lock:", cfg.Engine.LockTTL())
		assigneeLocker = redisLocker
		sweepLock = redisLocker
	}

	metrics := observability.NewMetrics()
	systemClock := clock.System()
	dispatcher := events.NewInMemoryDispatcher()

	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification).WithStaff(st.staff)
	worker.StartNotificationWorker(notificationService)

	deadlineService := service.NewDeadlineService(service.DeadlineDependencies{
		TicketRepo:     st.workItems,
		PolicyRepo:     st.policies,
		DeadlineRepo:   st.deadlines,
		FireRecordRepo: st.fireRecords,
		Profile:        profile,
		Locker:         assigneeLocker,
		Dispatcher:     dispatcher,
		Clock:          systemClock,
		Logger:         logger.Named("deadlines"),
		AtRisk:         cfg.Engine.AtRisk(),
	})
	escalationService := service.NewEscalationService(service.EscalationDependencies{
		TicketRepo:     st.workItems,
		PolicyRepo:     st.policies,
		DeadlineRepo:   st.deadlines,
		FireRecordRepo: st.fireRecords,
		Notifier:       notificationService,
		Clock:          systemClock,
		Logger:         logger.Named("escalations"),
		Metrics:        metrics,
	})
	registry := service.NewBackupRegistry(service.BackupDependencies{
		ConfigRepo:    st.configs,
		DiversionRepo: st.diversions,
		LogRepo:       st.logs,
		WorkItemRepo:  st.workItems,
		Notifier:      notificationService,
		Locker:        assigneeLocker,
		Retry: service.RetryPolicy{
			MaxAttempts:     cfg.Engine.RetryMaxAttempts,
			InitialInterval: cfg.Engine.RetryInitialInterval(),
		},
		Clock:    systemClock,
		Location: profile.Location,
		Logger:   logger.Named("backups"),
		Metrics:  metrics,
	})
	router := service.NewRouter(st.configs, profile.Location, logger.Named("router"), metrics)
	coordinator := service.NewSweepCoordinator(service.SweepDependencies{
		TicketRepo:  st.workItems,
		Escalations: escalationService,
		Registry:    registry,
		Lock:        sweepLock,
		Clock:       systemClock,
		Logger:      logger.Named("sweep"),
		Metrics:     metrics,
		Schedule:    cfg.Engine.SweepCron,
		Location:    profile.Location,
	})

	stopSweep, err := worker.StartSweepWorker(ctx, coordinator, cfg.Engine.SweepOnStart, logger)
	if err != nil {
		logger.Fatal("failed to schedule sweep", zap.Error(err))
	}
	defer stopSweep()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)

	app := httptransport.NewApp(cfg.App.Name)
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	readiness := map[string]handlers.Pinger{}
	if pg.Configured() {
		readiness["postgres"] = pg
	}
	if redis != nil {
		readiness["redis"] = redis
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness, metrics),
		Deadlines:      handlers.NewDeadlinesHandler(deadlineService),
		Escalations:    handlers.NewEscalationsHandler(escalationService, systemClock),
		Backups:        handlers.NewBackupsHandler(registry),
		Assignees:      handlers.NewAssigneesHandler(router, systemClock),
		Sweep:          handlers.NewSweepHandler(coordinator),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.ShutdownWithTimeout(10 * time.Second)
}

// buildStores picks Postgres repositories when a DSN is configured and the
// in-memory ones otherwise. Redis can take over fire records either way.
func buildStores(ctx context.Context, cfg *config.Config, pg *persistence.Postgres, redis *persistence.Redis, policies []domain.SLAPolicy, logger *zap.Logger) (stores, error) {
	var st stores
	if pg.Configured() {
		pool := pg.PoolHandle()
		st = stores{
			workItems:   repository.NewTicketRepository(pool),
			policies:    repository.NewPolicyRepository(pool),
			deadlines:   repository.NewDeadlineRepository(pool),
			fireRecords: repository.NewFireRecordRepository(pool),
			configs:     repository.NewBackupConfigRepository(pool),
			diversions:  repository.NewDiversionRepository(pool),
			logs:        repository.NewReassignmentLogRepository(pool),
			staff:       repository.NewStaffRepository(pool),
		}
		for i := range policies {
			if err := st.policies.Save(ctx, &policies[i]); err != nil {
				return stores{}, err
			}
		}
	} else {
		logger.Warn("running with in-memory stores; state is lost on restart")
		st = stores{
			workItems:   repository.NewMemoryWorkItems(),
			policies:    repository.NewMemoryPolicies(policies...),
			deadlines:   repository.NewMemoryDeadlines(),
			fireRecords: repository.NewMemoryFireRecords(),
			configs:     repository.NewMemoryBackupConfigs(),
			diversions:  repository.NewMemoryDiversions(),
			logs:        repository.NewMemoryReassignmentLog(),
			staff:       repository.NewMemoryStaff(),
		}
	}
	if cfg.Engine.RedisFireRecords {
		st.fireRecords = repository.NewRedisFireRecordRepository(redis.Client, cfg.Engine.FireRecordTTL())
		logger.Info("escalation fire records stored in redis")
	}
	logger.Info("sla policies loaded", zap.Int("count", len(policies)))
	return st, nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

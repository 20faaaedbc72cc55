package app

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/visitor_gate/internal/agent"
	"github.com/Freeeeeet/visitor_gate/internal/config"
	"github.com/Freeeeeet/visitor_gate/internal/events"
	"github.com/Freeeeeet/visitor_gate/internal/notify"
	"github.com/Freeeeeet/visitor_gate/internal/realtime"
	"github.com/Freeeeeet/visitor_gate/internal/repository"
	"github.com/Freeeeeet/visitor_gate/internal/service"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Container собранные зависимости процесса
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	Pool      *pgxpool.Pool
	Publisher events.Publisher
	Hub       *realtime.Hub
	Redis     *redis.Client              // nil без REDIS_URL
	Relay     *realtime.RedisBroadcaster // nil без REDIS_URL
	Bot       *bot.Bot                   // nil без TELEGRAM_TOKEN

	Users     *repository.UserRepository
	Visits    *service.VisitService
	Access    *service.AccessValidator
	Approvals *service.ApprovalService
	Sweep     *service.SweepService
}

// NewContainer подключается к инфраструктуре и собирает сервисы.
// Redis, NATS и Telegram опциональны.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	c.Pool = pool
	if err := pool.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := c.connectOptional(ctx); err != nil {
		c.Close()
		return nil, err
	}

	c.buildServices()
	return c, nil
}

func (c *Container) connectOptional(ctx context.Context) error {
	cfg := c.Config

	c.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		bus, err := events.NewNATSBus(cfg.NATS.URL, c.Logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		c.Publisher = bus
	} else {
		c.Logger.Info("NATS_URL not set, domain events disabled")
	}

	c.Hub = realtime.NewHub(c.Logger)
	if cfg.Redis.URL != "" {
		client, err := realtime.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		c.Redis = client
		c.Relay = realtime.NewRedisBroadcaster(client, c.Hub, c.Logger)
	} else {
		c.Logger.Info("REDIS_URL not set, realtime limited to this instance")
	}

	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		c.Bot = b
	} else {
		c.Logger.Info("TELEGRAM_TOKEN not set, residents get stored notifications only")
	}

	return nil
}

func (c *Container) buildServices() {
	cfg := c.Config
	logger := c.Logger

	c.Users = repository.NewUserRepository(c.Pool)
	families := repository.NewFamilyRepository(c.Pool, c.Users)
	vehicles := repository.NewVehicleRepository(c.Pool)
	visits := repository.NewVisitRepository(c.Pool)
	sessions := repository.NewSessionRepository(c.Pool)
	notifications := repository.NewNotificationRepository(c.Pool)

	// Интерфейс остаётся nil, если бота нет
	var push notify.PushSender
	if c.Bot != nil {
		push = notify.NewTelegramSender(c.Bot)
	}
	notifier := notify.NewService(notifications, c.Users, push, logger.Named("notify"))

	var broadcaster service.Broadcaster = c.Hub
	if c.Relay != nil {
		broadcaster = c.Relay
	}

	c.Visits = service.NewVisitService(visits, c.Users, vehicles, notifier, c.Publisher, logger.Named("visits"))
	c.Access = service.NewAccessValidator(c.Visits, c.Publisher, logger.Named("access"))

	approvalCfg := service.DefaultApprovalConfig()
	approvalCfg.SessionTimeout = cfg.Sessions.Timeout
	approvalCfg.NotificationTTL = cfg.Sessions.Timeout

	c.Approvals = service.NewApprovalService(service.ApprovalDeps{
		Sessions:      sessions,
		Visits:        c.Visits,
		Users:         c.Users,
		Families:      families,
		Notifier:      notifier,
		Notifications: notifications,
		Broadcaster:   broadcaster,
		Gate:          events.NewGateChannel(c.Publisher),
		Credentials:   notify.NewSMSCredentialSender(cfg.SMS.MailerSendKey, cfg.SMS.From, logger.Named("sms")),
		Agent:         agent.NewTokenIssuer(cfg.Agent.SigningKey, cfg.Agent.TokenTTL),
		Events:        c.Publisher,
	}, approvalCfg, logger.Named("approvals"))

	c.Sweep = service.NewSweepService(visits, c.Visits, c.Approvals, notifier, logger.Named("sweep"))
}

// Jobs фоновые задачи сверки
func (c *Container) Jobs() []Job {
	return []Job{
		{Name: "expire_visits", Interval: c.Config.Sweep.ExpireVisitsInterval, Run: c.Sweep.ExpireVisits},
		{Name: "expire_sessions", Interval: c.Config.Sweep.ExpireVisitsInterval, Run: c.Sweep.ExpireStaleSessions},
		{Name: "expiring_soon", Interval: c.Config.Sweep.ExpiringSoonInterval, Run: c.Sweep.NotifyExpiringSoonVisits},
	}
}

// Close дожидается фоновых отправок и закрывает подключения
func (c *Container) Close() {
	if c.Approvals != nil {
		c.Approvals.Wait()
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			c.Logger.Warn("Failed to close publisher", zap.Error(err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/config"
	"github.com/zaihebian/LeadGenNewVersion/internal/handler"
	"github.com/zaihebian/LeadGenNewVersion/internal/httpserver"
	"github.com/zaihebian/LeadGenNewVersion/internal/mailer"
	"github.com/zaihebian/LeadGenNewVersion/internal/mqhandler"
	"github.com/zaihebian/LeadGenNewVersion/internal/policy"
	"github.com/zaihebian/LeadGenNewVersion/internal/ratelimit"
	"github.com/zaihebian/LeadGenNewVersion/internal/repository"
	"github.com/zaihebian/LeadGenNewVersion/internal/service"
	"github.com/zaihebian/LeadGenNewVersion/internal/statemachine"
	"github.com/zaihebian/LeadGenNewVersion/pkg/db"
	"github.com/zaihebian/LeadGenNewVersion/pkg/logger"
	"github.com/zaihebian/LeadGenNewVersion/pkg/mq"
	"github.com/zaihebian/LeadGenNewVersion/pkg/outbox"
	"github.com/zaihebian/LeadGenNewVersion/pkg/redis"
	"github.com/zaihebian/LeadGenNewVersion/pkg/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting lead outreach service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("DB ready")

	// Redis
	rdb := redis.NewClient(cfg.Redis)
	defer rdb.Close()
	deduper := util.NewDeduper(rdb, 24*time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// MQ publisher + outbox dispatcher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher init failed", zap.Error(err))
	}
	defer publisher.Close()

	outboxRepo := outbox.NewRepository(dbConn)
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(2 * time.Second).
		WithBatchSize(100)
	go dispatcher.Start(ctx)

	replayService := outbox.NewReplayService(outboxRepo, publisher)

	// Repositories
	leadRepo := repository.NewLeadRepository(dbConn, outboxRepo, log)
	threadRepo := repository.NewThreadRepository(dbConn, outboxRepo, log)
	campaignRepo := repository.NewCampaignRepository(dbConn, log)

	// Collaborators
	agentClient := service.NewAgentClient(cfg.Agent, log)
	mailClient := mailer.NewRelayClient(cfg.Mailbox, log)
	alertSender := mailer.NewSMTPSender(cfg.SMTP, log)

	// Core
	machine := statemachine.New(leadRepo, threadRepo, log)
	limiter := ratelimit.New(
		cfg.SendLimit.MaxPerDay,
		time.Duration(cfg.SendLimit.MinIntervalSeconds)*time.Second,
		ratelimit.RealClock(),
		log,
	)
	// Prime the relay session so the mailbox address is known for reply
	// attribution before the first reply check runs.
	if !mailClient.IsAuthenticated(ctx) {
		log.Warn("Mail relay not authenticated at startup, sends will be skipped until it recovers")
	}
	attributor := policy.NewAttributor(mailClient.Address(), false, log)

	orch := service.NewOrchestrator(
		machine,
		leadRepo,
		threadRepo,
		campaignRepo,
		agentClient,
		mailClient,
		limiter,
		attributor,
		deduper,
		cfg.Outreach,
		log,
	)

	// Operator alert consumer
	alertHandler := mqhandler.NewRequiresHumanHandler(alertSender, deduper, retryCounter, cfg.Operator.AlertEmail, log)
	alertConsumer, err := mq.NewConsumer(
		cfg.MQ.URL,
		"lead.requires_human.q",
		"lead.requires_human",
		log,
	)
	if err != nil {
		log.Fatal("Alert consumer init failed", zap.Error(err))
	}
	alertConsumer.SetHandler(alertHandler.Handle)
	go func() {
		if err := alertConsumer.StartConsuming(); err != nil {
			log.Fatal("Alert consumer crashed", zap.Error(err))
		}
	}()
	defer alertConsumer.Close()

	// Periodic drivers
	startJob(ctx, log, "enrich_collected", cfg.Outreach.EnrichInterval, func(ctx context.Context) {
		orch.EnrichCollectedLeads(ctx)
	})
	startJob(ctx, log, "send_initial", cfg.Outreach.SendInterval, func(ctx context.Context) {
		orch.SendInitialEmails(ctx)
	})
	startJob(ctx, log, "check_replies", cfg.Outreach.ReplyInterval, func(ctx context.Context) {
		orch.CheckReplies(ctx)
	})
	startJob(ctx, log, "send_followups", cfg.Outreach.FollowupInterval, func(ctx context.Context) {
		orch.SendFollowups(ctx)
	})
	startJob(ctx, log, "close_stale", cfg.Outreach.StaleCloseInterval, func(ctx context.Context) {
		orch.CloseStaleLeads(ctx)
	})

	// HTTP surface
	authHandler := handler.NewAuthHandler(cfg.Operator, cfg.JWT.Secret, log)
	leadHandler := handler.NewLeadHandler(orch, leadRepo, campaignRepo, threadRepo, log)
	jobsHandler := handler.NewJobsHandler(orch, log)
	adminHandler := handler.NewAdminHandler(replayService, log)
	ipLimiter := httpserver.NewIPLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	router := httpserver.NewRouter(
		authHandler,
		leadHandler,
		jobsHandler,
		adminHandler,
		cfg.JWT.Secret,
		ipLimiter,
		dbConn,
	)

	go func() {
		log.Info("HTTP server listening", zap.String("port", cfg.Server.Port))
		if err := router.Run(":" + cfg.Server.Port); err != nil {
			log.Fatal("HTTP server crashed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	cancel()
	time.Sleep(time.Second)
}

// startJob runs fn on a ticker until ctx is cancelled. The first run fires
// after one interval, not at startup, so a crash-looping process does not
// hammer the collaborators.
func startJob(ctx context.Context, log *zap.Logger, name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		log.Warn("Job disabled by non-positive interval", zap.String("job", name))
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Info("Job scheduled",
			zap.String("job", name),
			zap.Duration("interval", interval),
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

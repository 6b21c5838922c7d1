// Package main is the entry point for the GGRD rewards bot.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ggrd-rewards-bot/internal/bot"
	"ggrd-rewards-bot/internal/config"
	"ggrd-rewards-bot/internal/model"
	"ggrd-rewards-bot/internal/oracle"
	"ggrd-rewards-bot/internal/pkg/db"
	"ggrd-rewards-bot/internal/pkg/lock"
	"ggrd-rewards-bot/internal/repository"
	"ggrd-rewards-bot/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	memberRepo := repository.NewMemberRepository(dbPool.Pool)
	snapshotRepo := repository.NewSnapshotRepository(dbPool.Pool)
	counterRepo := repository.NewCounterRepository(dbPool.Pool)

	// Seed the capacity counters
	for _, name := range []string{model.CounterTop100Ranks, model.CounterTask2Verified, model.CounterReferralPool} {
		if err := counterRepo.Seed(ctx, name); err != nil {
			log.Fatal().Err(err).Str("counter", name).Msg("Failed to seed counter")
		}
	}

	// Initialize the chain oracle
	chain := oracle.NewSolanaClient(cfg.Oracle.Endpoint, cfg.Oracle.Mint, cfg.Oracle.Timeout)

	// Initialize services
	taskService := service.NewTaskService(memberRepo, counterRepo, service.TaskConfig{
		Task1Reward:   cfg.Rewards.Task1Reward,
		Task2Reward:   cfg.Rewards.Task2Reward,
		Task2MaxUsers: cfg.Rewards.Task2MaxUsers,
	})
	referralService := service.NewReferralService(memberRepo, snapshotRepo, counterRepo, service.ReferralConfig{
		Reward:    cfg.Rewards.ReferralReward,
		PoolCap:   cfg.Rewards.ReferralPoolCap,
		PayoutDay: cfg.Rewards.ReferralPayoutDay,
	})
	snapshotService := service.NewSnapshotService(memberRepo, snapshotRepo, counterRepo, chain, service.SettlementConfig{
		HolderThreshold:     cfg.Rewards.HolderThreshold,
		Top100Reward:        cfg.Rewards.Top100Reward,
		Top100Limit:         cfg.Rewards.Top100Limit,
		BiggestHolderReward: cfg.Rewards.BiggestHolderReward,
		ContestDays:         cfg.Rewards.ContestDays,
		OracleConcurrency:   cfg.Oracle.Concurrency,
	})
	exportService := service.NewExportService(memberRepo)

	memberLock := lock.NewMemberLock()

	// Initialize bot
	telegramBot, err := bot.New(&bot.Dependencies{
		Config:     cfg,
		Tasks:      taskService,
		Referrals:  referralService,
		Settlement: snapshotService,
		Export:     exportService,
		MemberLock: memberLock,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	// Settlement notifications go out through the bot
	referralService.SetNotifier(telegramBot)
	snapshotService.SetNotifier(telegramBot)

	// Automatic daily snapshots during the contest window
	var scheduler gocron.Scheduler
	if cfg.Snapshot.AutoDaily {
		scheduler, err = startSnapshotScheduler(cfg.Snapshot.DailyInterval, snapshotService)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start snapshot scheduler")
		}
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	if scheduler != nil {
		if err := scheduler.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("Scheduler shutdown failed")
		}
	}
	telegramBot.Stop()
	log.Info().Msg("Bot stopped gracefully")
}

// startSnapshotScheduler runs the daily contest snapshot on a fixed
// interval. Out-of-sequence runs (before day0, after the contest, day
// already taken) are expected and only logged.
func startSnapshotScheduler(interval time.Duration, snapshots *service.SnapshotService) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ds, err := snapshots.DailySnapshot(context.Background())
			switch {
			case err == nil:
				log.Info().Int("day", ds.Day).Msg("Scheduled daily snapshot taken")
			case errors.Is(err, service.ErrDayZeroMissing),
				errors.Is(err, service.ErrDayAlreadyTaken),
				errors.Is(err, service.ErrContestOver):
				log.Info().Err(err).Msg("Scheduled daily snapshot skipped")
			default:
				log.Error().Err(err).Msg("Scheduled daily snapshot failed")
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	log.Info().Dur("interval", interval).Msg("Daily snapshot scheduler started")
	return scheduler, nil
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create members table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS members (
			telegram_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			first_name VARCHAR(255) NOT NULL DEFAULT '',
			last_name VARCHAR(255) NOT NULL DEFAULT '',
			wallet_address VARCHAR(64) NOT NULL DEFAULT '',
			referred_by BIGINT,
			conversation VARCHAR(32) NOT NULL DEFAULT 'idle',
			in_channel BOOLEAN NOT NULL DEFAULT FALSE,
			in_group BOOLEAN NOT NULL DEFAULT FALSE,
			task1_completed BOOLEAN NOT NULL DEFAULT FALSE,
			task1_reward BIGINT NOT NULL DEFAULT 0,
			task1_lottery_entry VARCHAR(64) NOT NULL DEFAULT '',
			task2_submitted BOOLEAN NOT NULL DEFAULT FALSE,
			task2_tx_hash VARCHAR(128) NOT NULL DEFAULT '',
			task2_verified BOOLEAN NOT NULL DEFAULT FALSE,
			task2_reward BIGINT NOT NULL DEFAULT 0,
			task3_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
			task3_snapshot_day0 BOOLEAN NOT NULL DEFAULT FALSE,
			task3_snapshot_day7 BOOLEAN NOT NULL DEFAULT FALSE,
			task3_qualified_lottery BOOLEAN NOT NULL DEFAULT FALSE,
			task3_top100_rank INT,
			task3_reward BIGINT NOT NULL DEFAULT 0,
			task3_lottery_entry VARCHAR(64) NOT NULL DEFAULT '',
			referral_count INT NOT NULL DEFAULT 0,
			referral_count_with_wallet INT NOT NULL DEFAULT 0,
			referral_earned BIGINT NOT NULL DEFAULT 0,
			referral_reward_paid BOOLEAN NOT NULL DEFAULT FALSE,
			total_rewards BIGINT NOT NULL DEFAULT 0,
			disqualified BOOLEAN NOT NULL DEFAULT FALSE,
			disqualified_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_members_first_contact ON members(created_at, telegram_id);
		CREATE INDEX IF NOT EXISTS idx_members_day0 ON members(task3_snapshot_day0) WHERE task3_snapshot_day0;
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: members table created")

	// Migration 2: Create snapshots table (run-once pass markers)
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			type VARCHAR(32) PRIMARY KEY,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: snapshots table created")

	// Migration 3: Create daily_snapshots table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS daily_snapshots (
			day INT PRIMARY KEY,
			balances JSONB NOT NULL,
			max_member_id BIGINT NOT NULL,
			max_balance DOUBLE PRECISION NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: daily_snapshots table created")

	// Migration 4: Create counters table (capacity slot allocators)
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS counters (
			name VARCHAR(64) PRIMARY KEY,
			value BIGINT NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: counters table created")

	return nil
}

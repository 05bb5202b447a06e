package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"feedloop-engagement/pkg/clock"
	"feedloop-engagement/pkg/config"
	"feedloop-engagement/pkg/db"
	"feedloop-engagement/pkg/health"
	"feedloop-engagement/pkg/logger"
	"feedloop-engagement/pkg/redis"
	"feedloop-engagement/pkg/sequence"
	"feedloop-engagement/pkg/server"
	"feedloop-engagement/services/events"
	"feedloop-engagement/services/gamification"
	"feedloop-engagement/services/leaderboard"
	"feedloop-engagement/services/referral"
	"feedloop-engagement/services/settings"
	"feedloop-engagement/services/task"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		clock.Module,
		sequence.Module,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
			provideTracerProvider,
		),
		fx.Invoke(
			autoMigrate,
			db.Otel,
			db.Metric,
		),
		settings.Server,
		gamification.Server,
		referral.Server,
		leaderboard.Server,
		events.Server,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&settings.Settings{},
		&referral.Referral{},
		&referral.Click{},
		&gamification.PointBalance{},
		&gamification.PointEvent{},
		&gamification.Badge{},
		&task.Task{},
		&task.Job{},
	)
}

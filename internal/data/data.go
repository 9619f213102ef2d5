// Package data opens the stores the bot persists to.
package data

import (
	"fmt"

	"github.com/lk2023060901/vidgrab-bot/internal/conf"
	downloaddata "github.com/lk2023060901/vidgrab-bot/internal/download/data"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/database"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/logger"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/redis"
	statsdata "github.com/lk2023060901/vidgrab-bot/internal/stats/data"
	userdata "github.com/lk2023060901/vidgrab-bot/internal/user/data"
	"go.uber.org/zap"
)

// Models lists every persisted table
func Models() []interface{} {
	return []interface{}{
		&userdata.UserPO{},
		&userdata.PlatformDownloadPO{},
		&statsdata.DailyStatPO{},
		&downloaddata.RequestPO{},
		&downloaddata.SentVideoPO{},
	}
}

type Data struct {
	DB *database.DB
	// Redis is nil unless redis.enabled is set
	Redis  *redis.Client
	Logger *logger.Logger
}

func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	db, err := database.New(&config.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	var redisClient *redis.Client
	if config.Redis.Enabled {
		redisClient, err = redis.New(&config.Redis.Config, log)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	d := &Data{
		DB:     db,
		Redis:  redisClient,
		Logger: log,
	}

	cleanup := func() {
		log.Info("cleaning up data resources")

		if err := db.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Warn("failed to close redis", zap.Error(err))
			}
		}
	}

	return d, cleanup, nil
}

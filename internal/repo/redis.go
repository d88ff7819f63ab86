package repo

import (
	"context"
	"time"

	"gameroom-service/internal/config"
	"gameroom-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RDB carries room snapshots and cross-instance room events.
var RDB *redis.Client

func InitRedis() {
	conf := config.GlobalConfig.Redis
	var err error
	RDB, err = OpenRedis(context.Background(), conf)
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis",
			zap.String("addr", conf.Addr),
			zap.Error(err),
		)
	}
}

// OpenRedis connects and pings within five seconds.
func OpenRedis(ctx context.Context, conf config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"5"`

	// Escrow policy
	CommissionRate  float64 `env:"COMMISSION_RATE" envDefault:"0.10"`
	PromotionFee    float64 `env:"PROMOTION_FEE" envDefault:"50"`
	CancellationFee float64 `env:"CANCELLATION_FEE" envDefault:"0.10"`

	// Sweeper
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	ReviewTimeout time.Duration `env:"REVIEW_TIMEOUT" envDefault:"24h"`

	// Moderation
	ModeratorIDs []int64 `env:"MODERATOR_IDS" envSeparator:","`

	// Telegram adapters (optional; zero values disable them)
	BotToken        string `env:"BOT_TOKEN"`
	LogChatID       int64  `env:"LOG_CHAT_ID"`
	LogTopicFunded  int    `env:"LOG_TOPIC_FUNDED"`
	LogTopicPayout  int    `env:"LOG_TOPIC_PAYOUT"`
	LogTopicReject  int    `env:"LOG_TOPIC_REJECT"`
	LogTopicExpired int    `env:"LOG_TOPIC_EXPIRED"`
	LogTopicError   int    `env:"LOG_TOPIC_ERROR"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsModerator(userID int64) bool {
	for _, id := range c.ModeratorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

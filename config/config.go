package config

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server   Server
	Database Database
	Redis    Redis
	JWT      JWT
	Session  Session
}

type Server struct {
	Port string
}

type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type JWT struct {
	Secret        string
	Issuer        string
	TokenDuration time.Duration
}

// Session holds the tunables for the real-time exam session core.
type Session struct {
	HeartbeatInterval     time.Duration // spacing between server pings
	HeartbeatTimeout      time.Duration // idle time before a connection is evicted
	MaxConnectionsPerUser int           // concurrent connections across all of a user's attempts
	CheckpointDebounce    time.Duration // minimum spacing between commits per (attempt, question)
	TransferMinRemaining  time.Duration // minimum time remaining to allow a workstation transfer
}

func NewConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("JWT_ISSUER", "hallpass")
	viper.SetDefault("JWT_TOKEN_DURATION_MINUTES", 240)
	viper.SetDefault("WS_HEARTBEAT_INTERVAL_SECONDS", 30)
	viper.SetDefault("WS_HEARTBEAT_TIMEOUT_SECONDS", 60)
	viper.SetDefault("WS_MAX_CONNECTIONS_PER_USER", 3)
	viper.SetDefault("WS_CHECKPOINT_DEBOUNCE_SECONDS", 2)
	viper.SetDefault("TRANSFER_MIN_REMAINING_MINUTES", 5)

	if err := viper.ReadInConfig(); err != nil {
		log.Warn().Err(err).Msg("Error reading config file")
	}

	var config Config

	config.Server.Port = viper.GetString("SERVER_PORT")
	config.Database.Host = viper.GetString("DATABASE_HOST")
	config.Database.Port = viper.GetString("DATABASE_PORT")
	config.Database.User = viper.GetString("DATABASE_USER")
	config.Database.Password = viper.GetString("DATABASE_PASSWORD")
	config.Database.Name = viper.GetString("DATABASE_NAME")

	config.Redis.Addr = viper.GetString("REDIS_ADDR")
	config.Redis.Password = viper.GetString("REDIS_PASSWORD")
	config.Redis.DB = viper.GetInt("REDIS_DB")

	config.JWT.Secret = viper.GetString("JWT_SECRET")
	config.JWT.Issuer = viper.GetString("JWT_ISSUER")
	config.JWT.TokenDuration = time.Duration(viper.GetInt("JWT_TOKEN_DURATION_MINUTES")) * time.Minute

	config.Session.HeartbeatInterval = time.Duration(viper.GetInt("WS_HEARTBEAT_INTERVAL_SECONDS")) * time.Second
	config.Session.HeartbeatTimeout = time.Duration(viper.GetInt("WS_HEARTBEAT_TIMEOUT_SECONDS")) * time.Second
	config.Session.MaxConnectionsPerUser = viper.GetInt("WS_MAX_CONNECTIONS_PER_USER")
	config.Session.CheckpointDebounce = time.Duration(viper.GetInt("WS_CHECKPOINT_DEBOUNCE_SECONDS")) * time.Second
	config.Session.TransferMinRemaining = time.Duration(viper.GetInt("TRANSFER_MIN_REMAINING_MINUTES")) * time.Minute

	log.Info().Str("port", config.Server.Port).Msg("Config loaded")
	return &config, nil
}

package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Quota      QuotaConfig
	RateLimit  RateLimitConfig
	Downloader DownloaderConfig
	Apify      ApifyConfig
	ConvertAPI ConvertAPIConfig
	Replicate  ReplicateConfig
	ACRCloud   ACRCloudConfig
	Expo       ExpoConfig
	R2         R2Config
	Gateway    GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type QuotaConfig struct {
	FreeDailyLimit int
}

type RateLimitConfig struct {
	SubmitPerMin     int
	PushTokenPerHour int
}

type DownloaderConfig struct {
	ServiceURL string // yt-dlp microservice
	APIKey     string
}

type ApifyConfig struct {
	Token   string
	BaseURL string
}

type ConvertAPIConfig struct {
	Secret string
}

type ReplicateConfig struct {
	Token        string
	DemucsModel  string
	PollInterval int // seconds
	PollAttempts int
}

type ACRCloudConfig struct {
	Host         string
	AccessKey    string
	AccessSecret string
}

type ExpoConfig struct {
	PushURL string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("YT_DLP_API_KEY")
	readSecret("APIFY_API_TOKEN")
	readSecret("CONVERTAPI_SECRET")
	readSecret("REPLICATE_API_TOKEN")
	readSecret("ACRCLOUD_ACCESS_KEY")
	readSecret("ACRCLOUD_ACCESS_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("quota.free_daily_limit", "FREE_DAILY_LIMIT")
	_ = viper.BindEnv("ratelimit.submit_per_min", "SUBMIT_PER_MIN")
	_ = viper.BindEnv("ratelimit.push_token_per_hour", "PUSH_TOKEN_PER_HOUR")
	_ = viper.BindEnv("downloader.service_url", "YT_DLP_SERVICE_URL")
	_ = viper.BindEnv("downloader.api_key", "YT_DLP_API_KEY")
	_ = viper.BindEnv("apify.token", "APIFY_API_TOKEN")
	_ = viper.BindEnv("apify.base_url", "APIFY_BASE_URL")
	_ = viper.BindEnv("convertapi.secret", "CONVERTAPI_SECRET")
	_ = viper.BindEnv("replicate.token", "REPLICATE_API_TOKEN")
	_ = viper.BindEnv("replicate.demucs_model", "REPLICATE_DEMUCS_MODEL")
	_ = viper.BindEnv("replicate.poll_interval", "REPLICATE_POLL_INTERVAL")
	_ = viper.BindEnv("replicate.poll_attempts", "REPLICATE_POLL_ATTEMPTS")
	_ = viper.BindEnv("acrcloud.host", "ACRCLOUD_HOST")
	_ = viper.BindEnv("acrcloud.access_key", "ACRCLOUD_ACCESS_KEY")
	_ = viper.BindEnv("acrcloud.access_secret", "ACRCLOUD_ACCESS_SECRET")
	_ = viper.BindEnv("expo.push_url", "EXPO_PUSH_URL")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("quota.free_daily_limit", 3)
	viper.SetDefault("ratelimit.submit_per_min", 10)
	viper.SetDefault("ratelimit.push_token_per_hour", 30)

	// Apify defaults
	viper.SetDefault("apify.base_url", "https://api.apify.com/v2")

	// Replicate defaults — htdemucs two-stem split, poll every 2s up to 4 min
	viper.SetDefault("replicate.demucs_model", "25a173108cff36ef9f80f854c162d01df9e6528be175794b81571f6ae71f64fd")
	viper.SetDefault("replicate.poll_interval", 2)
	viper.SetDefault("replicate.poll_attempts", 120)

	// Expo defaults
	viper.SetDefault("expo.push_url", "https://exp.host/--/api/v2/push/send")

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		Quota: QuotaConfig{
			FreeDailyLimit: viper.GetInt("quota.free_daily_limit"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerMin:     viper.GetInt("ratelimit.submit_per_min"),
			PushTokenPerHour: viper.GetInt("ratelimit.push_token_per_hour"),
		},
		Downloader: DownloaderConfig{
			ServiceURL: viper.GetString("downloader.service_url"),
			APIKey:     viper.GetString("downloader.api_key"),
		},
		Apify: ApifyConfig{
			Token:   viper.GetString("apify.token"),
			BaseURL: viper.GetString("apify.base_url"),
		},
		ConvertAPI: ConvertAPIConfig{
			Secret: viper.GetString("convertapi.secret"),
		},
		Replicate: ReplicateConfig{
			Token:        viper.GetString("replicate.token"),
			DemucsModel:  viper.GetString("replicate.demucs_model"),
			PollInterval: viper.GetInt("replicate.poll_interval"),
			PollAttempts: viper.GetInt("replicate.poll_attempts"),
		},
		ACRCloud: ACRCloudConfig{
			Host:         viper.GetString("acrcloud.host"),
			AccessKey:    viper.GetString("acrcloud.access_key"),
			AccessSecret: viper.GetString("acrcloud.access_secret"),
		},
		Expo: ExpoConfig{
			PushURL: viper.GetString("expo.push_url"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}

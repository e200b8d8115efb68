package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	SQLite      SQLiteConfig
	Redis       RedisConfig
	MinIO       MinIOConfig
	Search      SearchConfig
	Fetch       FetchConfig
	Capture     CaptureConfig
	Notify      NotifyConfig
	Semantic    SemanticConfig
	Fingerprint FingerprintConfig
	Match       MatchConfig
	Notice      NoticeConfig
	Scheduler   SchedulerConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type SearchConfig struct {
	SerpAPIKey string
	MaxResults int
	Platforms  []string
	TimeoutSec int
}

type FetchConfig struct {
	TimeoutSec   int
	MaxBodyBytes int64
	HostDelayMS  int
	UserAgent    string
}

type CaptureConfig struct {
	ServiceURL string
	TimeoutSec int
	ThumbWidth int
}

type NotifyConfig struct {
	GatewayURL string
	FromName   string
	TimeoutSec int
}

type SemanticConfig struct {
	Enabled        bool
	APIKey         string
	EmbeddingModel string
	TimeoutSec     int
}

type FingerprintConfig struct {
	MatchThreshold float64
	TierVeryHigh   float64
	TierHigh       float64
	TierMedium     float64
	TierLow        float64
}

type MatchConfig struct {
	Workers     int
	FetchTTLMin int
}

type NoticeConfig struct {
	WorthyTier string
}

type SchedulerConfig struct {
	Workers         int
	MaxAttempts     int
	BaseDelayMS     int
	MaxDelayMS      int
	RunTimeoutSec   int
	DuplicatePolicy string
	CrawlCadenceMin int
	MatchCadenceMin int
	EvidenceCadenceMin int
	NoticeCadenceMin   int
	TickSec         int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/copysentry")

	viper.SetEnvPrefix("COPYSENTRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (s SchedulerConfig) BaseDelay() time.Duration {
	return time.Duration(s.BaseDelayMS) * time.Millisecond
}

func (s SchedulerConfig) MaxDelay() time.Duration {
	return time.Duration(s.MaxDelayMS) * time.Millisecond
}

func (s SchedulerConfig) RunTimeout() time.Duration {
	return time.Duration(s.RunTimeoutSec) * time.Second
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 20971520)

	viper.SetDefault("sqlite.path", "./data/copysentry.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("minio.endpoint", "localhost:9000")
	viper.SetDefault("minio.bucket", "copysentry-evidence")
	viper.SetDefault("minio.useSSL", false)

	viper.SetDefault("search.maxResults", 20)
	viper.SetDefault("search.platforms", []string{"instagram", "pinterest", "etsy", "ebay"})
	viper.SetDefault("search.timeoutSec", 10)

	viper.SetDefault("fetch.timeoutSec", 15)
	viper.SetDefault("fetch.maxBodyBytes", 10485760)
	viper.SetDefault("fetch.hostDelayMS", 500)
	viper.SetDefault("fetch.userAgent", "CopySentryBot/1.0")

	viper.SetDefault("capture.serviceURL", "http://localhost:3300/screenshot")
	viper.SetDefault("capture.timeoutSec", 30)
	viper.SetDefault("capture.thumbWidth", 320)

	viper.SetDefault("notify.gatewayURL", "http://localhost:3400/send")
	viper.SetDefault("notify.fromName", "CopySentry Enforcement")
	viper.SetDefault("notify.timeoutSec", 20)

	viper.SetDefault("semantic.enabled", false)
	viper.SetDefault("semantic.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("semantic.timeoutSec", 20)

	viper.SetDefault("fingerprint.matchThreshold", 0.85)
	viper.SetDefault("fingerprint.tierVeryHigh", 0.95)
	viper.SetDefault("fingerprint.tierHigh", 0.90)
	viper.SetDefault("fingerprint.tierMedium", 0.85)
	viper.SetDefault("fingerprint.tierLow", 0.75)

	viper.SetDefault("match.workers", 4)
	viper.SetDefault("match.fetchTTLMin", 60)

	viper.SetDefault("notice.worthyTier", "high")

	viper.SetDefault("scheduler.workers", 8)
	viper.SetDefault("scheduler.maxAttempts", 3)
	viper.SetDefault("scheduler.baseDelayMS", 1000)
	viper.SetDefault("scheduler.maxDelayMS", 60000)
	viper.SetDefault("scheduler.runTimeoutSec", 120)
	viper.SetDefault("scheduler.duplicatePolicy", "reject")
	viper.SetDefault("scheduler.crawlCadenceMin", 360)
	viper.SetDefault("scheduler.matchCadenceMin", 60)
	viper.SetDefault("scheduler.evidenceCadenceMin", 30)
	viper.SetDefault("scheduler.noticeCadenceMin", 15)
	viper.SetDefault("scheduler.tickSec", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

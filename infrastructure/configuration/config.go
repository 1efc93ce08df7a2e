package configuration

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"intelliconn/infrastructure/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App         App         `mapstructure:"app"`
	Database    Database    `mapstructure:"database"`
	Pubsub      Pubsub      `mapstructure:"pubsub"`
	ServiceBus  ServiceBus  `mapstructure:"serviceBus"`
	RedisClient RedisClient `mapstructure:"redisClient"`
	HTTP        HTTP        `mapstructure:"http"`
	Retry       Retry       `mapstructure:"retry"`
	Token       Token       `mapstructure:"token"`
	Sync        Sync        `mapstructure:"sync"`
	Publish     Publish     `mapstructure:"publish"`
	Platforms   Platforms   `mapstructure:"platforms"`
}

type App struct {
	Port        int    `mapstructure:"port"`
	SecretKey   string `mapstructure:"secretKey"`
	TLSEnabled  bool   `mapstructure:"tlsEnabled"`
	TLSCertFile string `mapstructure:"tlsCertFile"`
	TLSKeyFile  string `mapstructure:"tlsKeyFile"`

	// AllowOrigins is the CORS allow list for the dashboard.
	AllowOrigins []string `mapstructure:"allowOrigins"`
}

type Database struct {
	Psql  Db `mapstructure:"psql"`
	MySql Db `mapstructure:"mysql"`
	Mongo Db `mapstructure:"mongo"`
	Mssql Db `mapstructure:"mssql"`
	// Driver selects the credential store backend: postgres (default) or mssql.
	Driver string `mapstructure:"driver"`
	// Analytics selects the ledger backend: mysql or sqlite.
	Analytics string `mapstructure:"analytics"`
	// SqlitePath is used when Analytics is sqlite.
	SqlitePath string `mapstructure:"sqlitePath"`
}

type Db struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type Pubsub struct {
	ProjectID string `mapstructure:"projectID"`
	TopicID   string `mapstructure:"topicID"`
}

type ServiceBus struct {
	Namespace string `mapstructure:"namespace"`
	Queue     string `mapstructure:"queue"`
}

type RedisClient struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DatabaseName string `mapstructure:"databaseName"`
	Username     string `mapstructure:"username"`
}

// HTTP bounds every outbound platform call.
type HTTP struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Retry is the backoff policy shared by publishing and syncing.
type Retry struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	BaseDelay   time.Duration `mapstructure:"baseDelay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"maxDelay"`
	Jitter      float64       `mapstructure:"jitter"`
	// UnknownCap caps attempts for unknown_platform_error.
	UnknownCap int `mapstructure:"unknownCap"`
}

type Token struct {
	ValidateCooldown time.Duration `mapstructure:"validateCooldown"`
	// CASRetries bounds re-read/re-apply loops on version conflicts.
	CASRetries int `mapstructure:"casRetries"`
}

type Sync struct {
	ScanInterval     time.Duration   `mapstructure:"scanInterval"`
	RunInterval      time.Duration   `mapstructure:"runInterval"`
	FreshWindow      time.Duration   `mapstructure:"freshWindow"`
	MonitoringWindow time.Duration   `mapstructure:"monitoringWindow"`
	NotReadySchedule []time.Duration `mapstructure:"notReadySchedule"`
	PausedRecheck    time.Duration   `mapstructure:"pausedRecheck"`
	BatchSize        int             `mapstructure:"batchSize"`
	// RunningLease is how long a running job may go untouched before another
	// worker reclaims it.
	RunningLease time.Duration `mapstructure:"runningLease"`
}

type Publish struct {
	ScheduledPollInterval time.Duration `mapstructure:"scheduledPollInterval"`
	BatchSize             int           `mapstructure:"batchSize"`
	PublishingLease       time.Duration `mapstructure:"publishingLease"`
}

type Platforms struct {
	Facebook  PlatformConfig `mapstructure:"facebook"`
	Instagram PlatformConfig `mapstructure:"instagram"`
	Twitter   PlatformConfig `mapstructure:"twitter"`
	Threads   PlatformConfig `mapstructure:"threads"`
}

// PlatformConfig carries the per-platform budgets and endpoints.
type PlatformConfig struct {
	BaseURL      string        `mapstructure:"baseURL"`
	TokenURL     string        `mapstructure:"tokenURL"`
	ClientID     string        `mapstructure:"clientId"`
	ClientSecret string        `mapstructure:"clientSecret"`
	RatePerSec   float64       `mapstructure:"ratePerSec"`
	Burst        int           `mapstructure:"burst"`
	Concurrency  int           `mapstructure:"concurrency"`
	FreshTTL     time.Duration `mapstructure:"freshTTL"`
	MatureTTL    time.Duration `mapstructure:"matureTTL"`
	// WriteTiers lists API access tiers allowed to publish (twitter only).
	WriteTiers []string `mapstructure:"writeTiers"`
}

var C Config

func init() {
	LoadEnv()
	LoadConfig()
	initDatabase(&C)
	initApp(&C)
	initPlatforms(&C)
	ApplyDefaults(&C)
}

// LoadEnv reads .env style files without overriding variables already set.
func LoadEnv() {
	for _, p := range []string{".env", "config.env"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			logger.GetLogger().WithField("error", err).WithField("file", p).Warn("Unable to load env file")
		}
	}
}

func LoadConfig() {
	name := getConfig()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
		}
	}

	if err := viper.Unmarshal(&C); err != nil {
		logger.GetLogger().WithField("error", err).Error("Viper unable to decode into struct")
	}
	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
}

func getConfig() string {
	name := "config"
	if env := os.Getenv("ENV"); env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func envDefault(dst *string, key string) {
	if *dst == "" {
		*dst = os.Getenv(key)
	}
}

func initDatabase(C *Config) {
	envDefault(&C.Database.Psql.Name, "DB_NAME")
	envDefault(&C.Database.Psql.Host, "DB_HOST")
	envDefault(&C.Database.Psql.Port, "DB_PORT")
	envDefault(&C.Database.Psql.User, "DB_USER")
	envDefault(&C.Database.Psql.Password, "DB_PASSWORD")

	envDefault(&C.Database.Mssql.Name, "MSSQL_DB_NAME")
	envDefault(&C.Database.Mssql.Host, "MSSQL_HOST")
	envDefault(&C.Database.Mssql.Port, "MSSQL_PORT")
	envDefault(&C.Database.Mssql.User, "MSSQL_USER")
	envDefault(&C.Database.Mssql.Password, "MSSQL_PASSWORD")

	envDefault(&C.Database.MySql.Name, "MYSQL_DB_NAME")
	envDefault(&C.Database.MySql.Host, "MYSQL_HOST")
	envDefault(&C.Database.MySql.Port, "MYSQL_PORT")
	envDefault(&C.Database.MySql.User, "MYSQL_USER")
	envDefault(&C.Database.MySql.Password, "MYSQL_PASSWORD")

	envDefault(&C.Database.Mongo.Host, "MONGO_HOST")
	envDefault(&C.Database.Driver, "DB_DRIVER")
	envDefault(&C.Database.Analytics, "ANALYTICS_DB")
}

func initApp(C *Config) {
	// SECRET_KEY from the environment wins over the config file.
	if v := os.Getenv("SECRET_KEY"); v != "" {
		C.App.SecretKey = v
	}
	// APP_PORT -> PORT -> config
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	}
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			C.App.TLSEnabled = b
		}
	}
	envDefault(&C.App.TLSCertFile, "TLS_CERT_FILE")
	envDefault(&C.App.TLSKeyFile, "TLS_KEY_FILE")
	if C.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; JWT authentication will fail. Provide SECRET_KEY via environment.")
	}
}

func initPlatforms(C *Config) {
	envDefault(&C.Platforms.Twitter.ClientID, "TWITTER_CONSUMER_KEY")
	envDefault(&C.Platforms.Twitter.ClientSecret, "TWITTER_CONSUMER_SECRET")
	envDefault(&C.Platforms.Threads.ClientID, "THREADS_CLIENT_ID")
	envDefault(&C.Platforms.Threads.ClientSecret, "THREADS_CLIENT_SECRET")
	envDefault(&C.Platforms.Facebook.ClientID, "FACEBOOK_CLIENT_ID")
	envDefault(&C.Platforms.Facebook.ClientSecret, "FACEBOOK_CLIENT_SECRET")
	envDefault(&C.Pubsub.ProjectID, "PUBSUB_PROJECT_ID")
	envDefault(&C.ServiceBus.Namespace, "SERVICEBUS_NAMESPACE")
}

// ApplyDefaults fills every zero-valued knob.
func ApplyDefaults(c *Config) {
	if c.App.Port == 0 {
		c.App.Port = 10001
	}
	if len(c.App.AllowOrigins) == 0 {
		c.App.AllowOrigins = []string{"http://localhost:4200", "http://localhost:4201", "https://localhost:4200", "https://localhost:4201"}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Analytics == "" {
		c.Database.Analytics = "sqlite"
	}
	if c.Database.SqlitePath == "" {
		c.Database.SqlitePath = "analytics.db"
	}
	if c.Database.Mssql.Port == "" {
		c.Database.Mssql.Port = "1433"
	}
	if c.Pubsub.TopicID == "" {
		c.Pubsub.TopicID = "publish-results"
	}
	if c.ServiceBus.Queue == "" {
		c.ServiceBus.Queue = "user-notifications"
	}

	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 15 * time.Second
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.Multiplier <= 1 {
		c.Retry.Multiplier = 2
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 60 * time.Second
	}
	if c.Retry.Jitter <= 0 || c.Retry.Jitter >= 1 {
		c.Retry.Jitter = 0.2
	}
	if c.Retry.UnknownCap <= 0 {
		c.Retry.UnknownCap = 3
	}

	if c.Token.ValidateCooldown <= 0 {
		c.Token.ValidateCooldown = 10 * time.Minute
	}
	if c.Token.CASRetries <= 0 {
		c.Token.CASRetries = 5
	}

	if c.Sync.ScanInterval <= 0 {
		c.Sync.ScanInterval = 5 * time.Minute
	}
	if c.Sync.RunInterval <= 0 {
		c.Sync.RunInterval = 10 * time.Second
	}
	if c.Sync.FreshWindow <= 0 {
		c.Sync.FreshWindow = 48 * time.Hour
	}
	if c.Sync.MonitoringWindow <= 0 {
		c.Sync.MonitoringWindow = 30 * 24 * time.Hour
	}
	if len(c.Sync.NotReadySchedule) == 0 {
		c.Sync.NotReadySchedule = []time.Duration{
			30 * time.Minute, time.Hour, 3 * time.Hour, 6 * time.Hour, 24 * time.Hour,
		}
	}
	if c.Sync.PausedRecheck <= 0 {
		c.Sync.PausedRecheck = 15 * time.Minute
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.RunningLease <= 0 {
		c.Sync.RunningLease = 30 * time.Minute
	}

	if c.Publish.ScheduledPollInterval <= 0 {
		c.Publish.ScheduledPollInterval = 30 * time.Second
	}
	if c.Publish.BatchSize <= 0 {
		c.Publish.BatchSize = 20
	}
	if c.Publish.PublishingLease <= 0 {
		c.Publish.PublishingLease = 15 * time.Minute
	}

	platformDefaults(&c.Platforms.Facebook, "https://graph.facebook.com/v19.0", 3, 4)
	platformDefaults(&c.Platforms.Instagram, "https://graph.facebook.com/v19.0", 2, 2)
	platformDefaults(&c.Platforms.Twitter, "https://api.twitter.com", 1, 2)
	platformDefaults(&c.Platforms.Threads, "https://graph.threads.net/v1.0", 2, 2)
	if c.Platforms.Twitter.TokenURL == "" {
		c.Platforms.Twitter.TokenURL = "https://api.twitter.com/2/oauth2/token"
	}
	if c.Platforms.Threads.TokenURL == "" {
		c.Platforms.Threads.TokenURL = "https://graph.threads.net/oauth/access_token"
	}
	if len(c.Platforms.Twitter.WriteTiers) == 0 {
		c.Platforms.Twitter.WriteTiers = []string{"basic", "pro", "enterprise"}
	}
}

func platformDefaults(p *PlatformConfig, baseURL string, rate float64, concurrency int) {
	if p.BaseURL == "" {
		p.BaseURL = baseURL
	}
	if p.RatePerSec <= 0 {
		p.RatePerSec = rate
	}
	if p.Burst <= 0 {
		p.Burst = int(rate)
		if p.Burst < 1 {
			p.Burst = 1
		}
	}
	if p.Concurrency <= 0 {
		p.Concurrency = concurrency
	}
	if p.FreshTTL <= 0 {
		p.FreshTTL = time.Hour
	}
	if p.MatureTTL <= 0 {
		p.MatureTTL = 24 * time.Hour
	}
}

// Platform returns the settings for one platform name.
func (p Platforms) Platform(name string) PlatformConfig {
	switch name {
	case "facebook":
		return p.Facebook
	case "instagram":
		return p.Instagram
	case "twitter":
		return p.Twitter
	case "threads":
		return p.Threads
	}
	return PlatformConfig{}
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var ErrMissingJWTSecret = errors.New("security.jwtsecret is not configured")

// WARD_SECURITY_JWTSECRET maps to security.jwtsecret.
var envKeyReplacer = strings.NewReplacer(".", "_")

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Stream carries device telemetry and worker tasks.
	Stream   string
	Group    string
	Consumer string
	// LiveChannel is the pub/sub channel used to fan device updates out to API instances.
	LiveChannel string
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	BucketArchive string
	UseSSL        bool
	Region        string
}

type SecurityConfig struct {
	JWTSecret     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration
	MaxSessions   int
	BcryptCost    int
	// DeviceSecret signs telemetry posted over HTTP by devices.
	DeviceSecret  string
	SignatureSkew time.Duration
}

type TelemetryConfig struct {
	LowBatteryThreshold int
	ClaimInterval       time.Duration
	MQTTBroker          string
	MQTTTopic           string
	MQTTClientID        string
	MQTTUsername        string
	MQTTPassword        string
}

type LiveConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Telemetry        TelemetryConfig
	Live             LiveConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("WARD")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate reports settings every process needs before it can start.
// A missing JWT secret is not fatal here; token operations fail with a 500 instead.
func (c *AppConfig) Validate() error {
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is not configured")
	}
	if c.Security.JWTAccessTTL <= 0 {
		return errors.New("security.jwtaccessttl must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 5)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "devices:telemetry")
	v.SetDefault("redis.group", "telemetry-workers")
	v.SetDefault("redis.consumer", "worker-1")
	v.SetDefault("redis.livechannel", "devices:live")

	v.SetDefault("storage.endpoint", "127.0.0.1:9000")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucketarchive", "ward-archive")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("security.jwtsecret", "")
	v.SetDefault("security.jwtaccessttl", "15m")
	v.SetDefault("security.jwtrefreshttl", "168h") // 7 days
	v.SetDefault("security.maxsessions", 10)
	v.SetDefault("security.bcryptcost", 12)
	v.SetDefault("security.devicesecret", "")
	v.SetDefault("security.signatureskew", "5m")

	v.SetDefault("telemetry.lowbatterythreshold", 15)
	v.SetDefault("telemetry.claiminterval", "30s")
	v.SetDefault("telemetry.mqttbroker", "")
	v.SetDefault("telemetry.mqtttopic", "wards/+/devices/+/telemetry")
	v.SetDefault("telemetry.mqttclientid", "ward-worker")
	v.SetDefault("telemetry.mqttusername", "")
	v.SetDefault("telemetry.mqttpassword", "")

	v.SetDefault("live.writetimeout", "10s")
	v.SetDefault("live.pinginterval", "30s")
	v.SetDefault("live.sendbuffer", 64)

	v.SetDefault("allowcorsorigins", []string{})
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Dapr     DaprConfig
	Cart     CartConfig
	Events   EventsConfig
	Observ   ObservabilityConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig points at the product catalog. An empty URL disables catalog
// lookups; add requests must then carry sku, name and price themselves.
type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	ConnectWait    time.Duration
	MaxBackoff     time.Duration
}

type KafkaConfig struct {
	Brokers           []string
	Topic             string
	Partitions        int
	ReplicationFactor int
}

type DaprConfig struct {
	Endpoint       string
	StateStore     string
	PubSub         string
	Timeout        time.Duration
	SidecarWait    time.Duration
	MinTTL         time.Duration
	APIToken       string
	BreakerTimeout time.Duration
}

type CartConfig struct {
	MaxItems       int
	MaxQuantity    int
	DefaultTTL     time.Duration
	GuestTTL       time.Duration
	LockTTL        time.Duration
	StorageMode    string
	MessagingMode  string
	DispatchWorker int
	DispatchQueue  int
}

type EventsConfig struct {
	Source         string
	Namespace      string
	PublishTimeout time.Duration
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	LogLevel       string
}

func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8008"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			DialTimeout:    getEnvDuration("REDIS_DIAL_TIMEOUT", 15*time.Second),
			CommandTimeout: getEnvDuration("REDIS_COMMAND_TIMEOUT", 10*time.Second),
			ConnectWait:    getEnvDuration("REDIS_CONNECT_WAIT", 10*time.Second),
			MaxBackoff:     getEnvDuration("REDIS_MAX_BACKOFF", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:             getEnv("KAFKA_TOPIC_CART_EVENTS", "xshopai.events"),
			Partitions:        getEnvInt("KAFKA_TOPIC_PARTITIONS", 3),
			ReplicationFactor: getEnvInt("KAFKA_TOPIC_REPLICATION", 1),
		},
		Dapr: DaprConfig{
			Endpoint:       getEnv("DAPR_HTTP_ENDPOINT", "http://localhost:"+getEnv("DAPR_HTTP_PORT", "3500")),
			StateStore:     getEnv("DAPR_STATE_STORE", "statestore"),
			PubSub:         getEnv("DAPR_PUBSUB", "pubsub"),
			Timeout:        getEnvDuration("DAPR_TIMEOUT", 10*time.Second),
			SidecarWait:    getEnvDuration("DAPR_SIDECAR_WAIT", 5*time.Second),
			MinTTL:         getEnvDuration("DAPR_MIN_TTL", 60*time.Second),
			APIToken:       getEnv("DAPR_API_TOKEN", ""),
			BreakerTimeout: getEnvDuration("DAPR_BREAKER_TIMEOUT", 15*time.Second),
		},
		Cart: CartConfig{
			MaxItems:       getEnvInt("CART_MAX_ITEMS", 100),
			MaxQuantity:    getEnvInt("CART_MAX_QUANTITY", 99),
			DefaultTTL:     getEnvDuration("CART_DEFAULT_TTL", 720*time.Hour),
			GuestTTL:       getEnvDuration("CART_GUEST_TTL", 72*time.Hour),
			LockTTL:        getEnvDuration("CART_LOCK_TTL", 30*time.Second),
			StorageMode:    strings.ToLower(getEnv("CART_STORAGE_PROVIDER", "auto")),
			MessagingMode:  strings.ToLower(getEnv("MESSAGING_PROVIDER", "dapr")),
			DispatchWorker: getEnvInt("EVENT_DISPATCH_WORKERS", 4),
			DispatchQueue:  getEnvInt("EVENT_DISPATCH_QUEUE", 1024),
		},
		Events: EventsConfig{
			Source:         getEnv("EVENT_SOURCE", "cart-service"),
			Namespace:      getEnv("EVENT_NAMESPACE", "com.xshopai"),
			PublishTimeout: getEnvDuration("EVENT_PUBLISH_TIMEOUT", 10*time.Second),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			LogLevel:       getEnv("LOG_LEVEL", ""),
		},
	}

	log.Printf("Config loaded: env=%s, port=%s, storage=%s, messaging=%s",
		cfg.Server.Env, cfg.Server.Port, cfg.Cart.StorageMode, cfg.Cart.MessagingMode)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Invalid integer for %s=%q, using %d", key, val, defaultVal)
		return defaultVal
	}
	return n
}

// getEnvDuration accepts Go duration syntax ("720h", "30s"). A bare number is
// read as hours. Every configured duration must be positive.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		hours, aerr := strconv.Atoi(val)
		if aerr != nil {
			log.Printf("Invalid duration for %s=%q, using %s", key, val, defaultVal)
			return defaultVal
		}
		d = time.Duration(hours) * time.Hour
	}
	if d <= 0 {
		log.Printf("Non-positive duration for %s=%q, using %s", key, val, defaultVal)
		return defaultVal
	}
	return d
}

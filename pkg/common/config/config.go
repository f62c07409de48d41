package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ServerPrefix   string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	DatabaseURL      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisURL      string
	RedisLockDB   int
	RedisTimeout  time.Duration
	RedisLockTTL  time.Duration
	UseRedisLock  bool

	// Kafka
	KafkaBrokers         []string
	KafkaGroupID         string
	FeatureEventsTopic   string
	PublishFeatureEvents bool

	// Hub auth
	HubAPIURL       string
	HubAPIToken     string
	HubCookieName   string
	AuthCacheMaxAge time.Duration
	JWTSecret       string

	// Forum
	UseDiscourse             bool
	DiscourseMode            string
	DiscourseDomainName      string
	DiscourseAPIUsername     string
	DiscourseAPIToken        string
	DiscourseFeatureCategory string
	DemoProblemName          string

	// Evaluation
	ExecutorWorkerPath     string
	ExecutorTimeout        time.Duration
	ExecutorMaxSteps       int
	ExecutorMaxOutputBytes int
	ExecutorIsolated       bool
	CVFolds                int
	RandomState            int

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int

	// Client
	EvalServerURL  string
	ClientTimeout  time.Duration
	ClientAPIToken string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPrefix:   getEnv("SERVER_PREFIX", "/services/eval-server"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 5*time.Minute),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "featurehub"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "featurehub"),
		PostgresDB:       getEnv("POSTGRES_DB", "featurehub"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisLockDB:   getIntEnv("REDIS_LOCK_DB", -1),
		RedisTimeout:  getDuration("REDIS_TIMEOUT", 2*time.Second),
		RedisLockTTL:  getDuration("REDIS_LOCK_TTL", 10*time.Minute),
		UseRedisLock:  getBoolEnv("USE_REDIS_LOCK", false),

		KafkaBrokers:         getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:         getEnv("KAFKA_GROUP_ID", "featurehub-notifier"),
		FeatureEventsTopic:   getEnv("FEATURE_EVENTS_TOPIC", "featurehub.features.registered"),
		PublishFeatureEvents: getBoolEnv("PUBLISH_FEATURE_EVENTS", false),

		HubAPIURL:       getEnv("HUB_API_URL", "http://localhost:8081/hub/api"),
		HubAPIToken:     getEnv("EVAL_API_TOKEN", ""),
		HubCookieName:   getEnv("HUB_COOKIE_NAME", "jupyterhub-services"),
		AuthCacheMaxAge: getDuration("AUTH_CACHE_MAX_AGE", 60*time.Second),
		JWTSecret:       getEnv("JWT_SECRET", ""),

		UseDiscourse:             getBoolEnv("USE_DISCOURSE", false),
		DiscourseMode:            getEnv("DISCOURSE_MODE", "sync"),
		DiscourseDomainName:      getEnv("DISCOURSE_DOMAIN_NAME", ""),
		DiscourseAPIUsername:     getEnv("DISCOURSE_CLIENT_API_USERNAME", ""),
		DiscourseAPIToken:        getEnv("DISCOURSE_CLIENT_API_TOKEN", ""),
		DiscourseFeatureCategory: getEnv("DISCOURSE_FEATURE_CATEGORY_NAME", "features"),
		DemoProblemName:          getEnv("DEMO_PROBLEM_NAME", "demo"),

		ExecutorWorkerPath:     getEnv("EXECUTOR_WORKER_PATH", "feature-worker"),
		ExecutorTimeout:        getDuration("EXECUTOR_TIMEOUT", 60*time.Second),
		ExecutorMaxSteps:       getIntEnv("EXECUTOR_MAX_STEPS", 0),
		ExecutorMaxOutputBytes: getIntEnv("EXECUTOR_MAX_OUTPUT_BYTES", 64*1024*1024),
		ExecutorIsolated:       getBoolEnv("EXECUTOR_ISOLATED", true),
		CVFolds:                getIntEnv("CV_FOLDS", 5),
		RandomState:            getIntEnv("RANDOM_STATE", 1754),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 40),

		EvalServerURL:  getEnv("EVAL_SERVER_URL", "http://localhost:5000/services/eval-server"),
		ClientTimeout:  getDuration("CLIENT_TIMEOUT", 10*time.Minute),
		ClientAPIToken: getEnv("JUPYTERHUB_API_TOKEN", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getBoolEnv accepts the loose spellings operators tend to put in compose files.
func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "y", "yes", "true", "on", "totally":
		return true
	case "0", "n", "no", "false", "off":
		return false
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

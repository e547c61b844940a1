package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL string
	SslCertPath string

	ObjectStore    string // minio | s3
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioSecure    bool
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	S3Endpoint     string

	IndexStore   string // pgvector | qdrant
	IndexPrefix  string
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string

	EmbedModel    string
	EmbedAPIBase  string
	EmbedAPIKey   string
	EmbedProvider string
	EmbedDim      int
	EmbedTimeout  time.Duration
	GeminiAPIKey  string

	Decoder       string // mineru | docconv
	MineruURL     string
	MineruTimeout time.Duration

	TaskRegistry  string // memory | redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ParseWorkers   int
	ParseQueueSize int
	BatchCapacity  int

	Port        string
	JWTSecret   string
	CORSOrigins []string

	LogLevel  string
	LogFormat string
	TempDir   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("object_store", "minio")
	v.SetDefault("minio_endpoint", "localhost:9000")
	v.SetDefault("minio_access_key", "minioadmin")
	v.SetDefault("minio_secret_key", "minioadmin")
	v.SetDefault("minio_secure", false)
	v.SetDefault("aws_region", "us-east-2")

	v.SetDefault("index_store", "pgvector")
	v.SetDefault("index_prefix", "ragflow")
	v.SetDefault("qdrant_host", "localhost")
	v.SetDefault("qdrant_port", 6334)

	v.SetDefault("embed_model", "bge-m3")
	v.SetDefault("embed_api_base", "http://localhost:8000")
	v.SetDefault("embed_dim", 1024)
	v.SetDefault("embed_timeout", 15*time.Second)

	v.SetDefault("decoder", "")
	v.SetDefault("mineru_timeout", 10*time.Minute)

	v.SetDefault("task_registry", "memory")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)

	v.SetDefault("parse_workers", 4)
	v.SetDefault("parse_queue_size", 64)
	v.SetDefault("batch_capacity", 16)

	v.SetDefault("port", "8080")
	v.SetDefault("cors_origins", "http://localhost:5173,http://localhost:8888")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// LoadConfig reads .env, the environment and any bound flags, in increasing priority.
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL: v.GetString("database_url"),
		SslCertPath: v.GetString("ssl_cert_path"),

		ObjectStore:    strings.ToLower(v.GetString("object_store")),
		MinioEndpoint:  v.GetString("minio_endpoint"),
		MinioAccessKey: v.GetString("minio_access_key"),
		MinioSecretKey: v.GetString("minio_secret_key"),
		MinioSecure:    v.GetBool("minio_secure"),
		AwsAccessKey:   v.GetString("aws_access_key"),
		AwsSecretKey:   v.GetString("aws_secret_key"),
		AwsRegion:      v.GetString("aws_region"),
		S3Endpoint:     v.GetString("s3_endpoint"),

		IndexStore:   strings.ToLower(v.GetString("index_store")),
		IndexPrefix:  v.GetString("index_prefix"),
		QdrantHost:   v.GetString("qdrant_host"),
		QdrantPort:   v.GetInt("qdrant_port"),
		QdrantAPIKey: v.GetString("qdrant_api_key"),

		EmbedModel:    v.GetString("embed_model"),
		EmbedAPIBase:  v.GetString("embed_api_base"),
		EmbedAPIKey:   v.GetString("embed_api_key"),
		EmbedProvider: strings.ToLower(v.GetString("embed_provider")),
		EmbedDim:      v.GetInt("embed_dim"),
		EmbedTimeout:  v.GetDuration("embed_timeout"),
		GeminiAPIKey:  v.GetString("gemini_api_key"),

		Decoder:       strings.ToLower(v.GetString("decoder")),
		MineruURL:     v.GetString("mineru_url"),
		MineruTimeout: v.GetDuration("mineru_timeout"),

		TaskRegistry:  strings.ToLower(v.GetString("task_registry")),
		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		ParseWorkers:   v.GetInt("parse_workers"),
		ParseQueueSize: v.GetInt("parse_queue_size"),
		BatchCapacity:  v.GetInt("batch_capacity"),

		Port:        v.GetString("port"),
		JWTSecret:   v.GetString("jwt_secret"),
		CORSOrigins: splitList(v.GetString("cors_origins")),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		TempDir:   v.GetString("temp_dir"),
	}

	if cfg.Decoder == "" {
		cfg.Decoder = "docconv"
		if cfg.MineruURL != "" {
			cfg.Decoder = "mineru"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}
	switch c.ObjectStore {
	case "minio", "s3":
	default:
		return fmt.Errorf("OBJECT_STORE %q is not one of minio, s3", c.ObjectStore)
	}
	switch c.IndexStore {
	case "pgvector", "qdrant":
	default:
		return fmt.Errorf("INDEX_STORE %q is not one of pgvector, qdrant", c.IndexStore)
	}
	switch c.Decoder {
	case "docconv":
	case "mineru":
		if c.MineruURL == "" {
			return fmt.Errorf("DECODER=mineru requires MINERU_URL")
		}
	default:
		return fmt.Errorf("DECODER %q is not one of mineru, docconv", c.Decoder)
	}
	switch c.TaskRegistry {
	case "memory", "redis":
	default:
		return fmt.Errorf("TASK_REGISTRY %q is not one of memory, redis", c.TaskRegistry)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}
	if c.ParseWorkers <= 0 || c.ParseQueueSize <= 0 || c.BatchCapacity <= 0 {
		return fmt.Errorf("PARSE_WORKERS, PARSE_QUEUE_SIZE and BATCH_CAPACITY must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Qdrant     QdrantConfig
	Gemini     GeminiConfig
	Storage    StorageConfig
	OCR        OCRConfig
	Worker     WorkerConfig
	Pipeline   PipelineConfig
	Assessment AssessmentConfig
	Brain      BrainConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type QdrantConfig struct {
	URL              string
	APIKey           string
	CollectionPrefix string
	VectorSize       uint64
}

type GeminiConfig struct {
	APIKey     string
	Model      string
	EmbedModel string
}

type StorageConfig struct {
	UploadPath  string
	MaxFileSize int64
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

type OCRConfig struct {
	Region      string
	PollTimeout time.Duration
	BatchSize   int
}

type WorkerConfig struct {
	Concurrency       int
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	SweepInterval     time.Duration
}

type PipelineConfig struct {
	ReconcileGrace    time.Duration
	ProcessingGrace   time.Duration
	ReconcileLimit    int
	MaxSubmitAttempts int
	ChunkSize         int
	ChunkOverlap      int
}

type AssessmentConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	AICallTimeout    time.Duration
	BreakerStore     string
	InstanceName     string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
}

type BrainConfig struct {
	TemplateDir string
	RulesFile   string
	Passages    int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found. Using default values.")
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "3000"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "entity_brain"),
		},
		Qdrant: QdrantConfig{
			URL:              getEnv("QDRANT_URL", "http://localhost:6334"),
			APIKey:           getEnv("QDRANT_API_KEY", ""),
			CollectionPrefix: getEnv("QDRANT_COLLECTION_PREFIX", "brain"),
			VectorSize:       uint64(getEnvAsInt("QDRANT_VECTOR_SIZE", 768)),
		},
		Gemini: GeminiConfig{
			APIKey:     getEnv("GEMINI_API_KEY", ""),
			Model:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			EmbedModel: getEnv("GEMINI_EMBED_MODEL", "text-embedding-004"),
		},
		Storage: StorageConfig{
			UploadPath:  getEnv("UPLOAD_PATH", "./uploads"),
			MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 10485760),
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3Region:    getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3PathStyle: getEnvAsBool("S3_PATH_STYLE", false),
		},
		OCR: OCRConfig{
			Region:      getEnv("TEXTRACT_REGION", getEnv("S3_REGION", "us-east-1")),
			PollTimeout: getEnvAsDuration("OCR_POLL_TIMEOUT", "10s"),
			BatchSize:   getEnvAsInt("OCR_POLL_BATCH_SIZE", 50),
		},
		Worker: WorkerConfig{
			Concurrency:       getEnvAsInt("WORKER_CONCURRENCY", 3),
			RetryMaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			RetryInitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", "2s"),
			SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", "0s"),
		},
		Pipeline: PipelineConfig{
			ReconcileGrace:    getEnvAsDuration("RECONCILE_GRACE", "30s"),
			ProcessingGrace:   getEnvAsDuration("PROCESSING_GRACE", "10m"),
			ReconcileLimit:    getEnvAsInt("RECONCILE_LIMIT", 50),
			MaxSubmitAttempts: getEnvAsInt("OCR_MAX_SUBMIT_ATTEMPTS", 3),
			ChunkSize:         getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap:      getEnvAsInt("CHUNK_OVERLAP", 200),
		},
		Assessment: AssessmentConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
			RecoveryTimeout:  getEnvAsDuration("BREAKER_RECOVERY_TIMEOUT", "60s"),
			AICallTimeout:    getEnvAsDuration("AI_CALL_TIMEOUT", "45s"),
			BreakerStore:     getEnv("BREAKER_STORE", "memory"),
			InstanceName:     getEnv("ASSESSMENT_INSTANCE", "assessment-default"),
			RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:    getEnv("REDIS_PASSWORD", ""),
			RedisDB:          getEnvAsInt("REDIS_DB", 0),
		},
		Brain: BrainConfig{
			TemplateDir: getEnv("BRAIN_TEMPLATE_DIR", "./brain_templates"),
			RulesFile:   getEnv("BRAIN_RULES_FILE", ""),
			Passages:    getEnvAsInt("BRAIN_PASSAGES", 5),
		},
	}
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	HWAccel     bool
	HWEncoder   string // e.g. "h264_videotoolbox", "h264_nvenc"

	WorkDir     string // Parent of the run-scoped temporary directories
	OutputDir   string // Final videos
	KeyframeDir string // Generated keyframe images
	InboxDir    string // Watched by `mvsynth watch`
	ProfilePath string // Optional YAML render profile

	// Image generator
	ImageGenURL     string
	ImageGenTimeout time.Duration
	ImagePreset     string // pixart, sdxl_turbo
	ImageWidth      int    // 0 keeps the preset size
	ImageHeight     int
	ImageSteps      int
	ImageGuidance   float64

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	ServerAddr        string
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string // bcrypt

	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")
	dataBase := getEnv("DATA_DIR", "data")

	return &Config{
		FFmpegPath:  ffmpegPath,
		FFprobePath: getEnv("FFPROBE_PATH", strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)),
		HWAccel:     getEnvBool("HW_ACCEL", false),
		HWEncoder:   getEnv("HW_ENCODER", "h264_videotoolbox"),

		WorkDir:     getEnv("WORK_DIR", filepath.Join(dataBase, "work")),
		OutputDir:   getEnv("OUTPUT_DIR", filepath.Join(dataBase, "videos")),
		KeyframeDir: getEnv("KEYFRAME_DIR", filepath.Join(dataBase, "keyframes")),
		InboxDir:    getEnv("INBOX_DIR", filepath.Join(dataBase, "inbox")),
		ProfilePath: getEnv("PROFILE_PATH", ""),

		ImageGenURL:     getEnv("IMAGE_GEN_URL", "http://127.0.0.1:7860"),
		ImageGenTimeout: getEnvDuration("IMAGE_GEN_TIMEOUT", 5*time.Minute),
		ImagePreset:     getEnv("IMAGE_PRESET", "pixart"),
		ImageWidth:      getEnvInt("IMAGE_WIDTH", 0),
		ImageHeight:     getEnvInt("IMAGE_HEIGHT", 0),
		ImageSteps:      getEnvInt("IMAGE_STEPS", 0),
		ImageGuidance:   getEnvFloat("IMAGE_GUIDANCE", -1),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "mvsynth"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CacheTTL:      getEnvDuration("CACHE_TTL", 24*time.Hour),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "mvsynth"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		ServerAddr:        getEnv("SERVER_ADDR", ":8080"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}

// DatabaseEnabled reports whether a MySQL host is configured.
func (c *Config) DatabaseEnabled() bool { return c.DBHost != "" }

// RedisEnabled reports whether a Redis host is configured.
func (c *Config) RedisEnabled() bool { return c.RedisHost != "" }

// MinioEnabled reports whether object storage is configured.
func (c *Config) MinioEnabled() bool { return c.MinioEndpoint != "" }

package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string
	Port         string
	ServiceName  string
	BuildVersion string

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	GeoIPDBPath        string

	DatabaseURL string
	DBMaxConns  int
	RedisURL    string
	JWTSecret   string

	JobTTL            time.Duration
	JobSweepInterval  time.Duration
	WorkerConcurrency int
	WorkerInProcess   bool
	JobTimeout        time.Duration

	StorageDriver string
	StoragePath   string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3Prefix      string

	PipelinePreset      string
	PipelinePresetsPath string
	// Budget overrides; zero keeps the preset value.
	HardBudget       time.Duration
	Stage1Timeout    time.Duration
	MinStage2bBudget time.Duration

	ModelRuntime      string
	ModelRuntimeURL   string
	ModelRuntimeToken string
	AcceleratorSlots  int

	FFmpegBin    string
	FFprobeBin   string
	MediaTimeout time.Duration

	ImageFetchTimeout    time.Duration
	ImageMaxBytes        int64
	ImageSourceAllowlist []string

	BytePlusAPIKey       string
	BytePlusBaseURL      string
	BytePlusModelID      string
	RunwareEnabled       bool
	RunwareAPIKey        string
	RunwareBaseURL       string
	EvolinkAPIKey        string
	EvolinkBaseURL       string
	VendorPollInterval   time.Duration
	VendorMaxWait        time.Duration
	VendorRequestTimeout time.Duration
}

// Storage drivers.
const (
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// Model runtimes.
const (
	RuntimeSynthetic = "synthetic"
	RuntimeRemote    = "remote"
)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:       getEnv("APP_ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		ServiceName:  getEnv("SERVICE_NAME", "clipgen"),
		BuildVersion: getEnv("BUILD_VERSION", "dev"),

		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 25<<20)),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		JobTTL:            time.Hour * time.Duration(getEnvInt("JOB_TTL_HOURS", 24)),
		JobSweepInterval:  time.Second * time.Duration(getEnvInt("JOB_SWEEP_INTERVAL_SECONDS", 300)),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 1),
		WorkerInProcess:   getEnvBool("WORKER_INPROCESS", true),
		JobTimeout:        time.Second * time.Duration(getEnvInt("JOB_TIMEOUT_SECONDS", 900)),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", StorageFilesystem)),
		StoragePath:   getEnv("STORAGE_PATH", "./storage"),
		S3Bucket:      os.Getenv("S3_BUCKET"),
		S3Region:      os.Getenv("S3_REGION"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
		S3Prefix:      os.Getenv("S3_PREFIX"),

		PipelinePreset:      strings.ToLower(getEnv("PIPELINE_PRESET", "balanced")),
		PipelinePresetsPath: os.Getenv("PIPELINE_PRESETS_PATH"),
		HardBudget:          time.Second * time.Duration(getEnvInt("HARD_BUDGET_SECONDS", 0)),
		Stage1Timeout:       time.Second * time.Duration(getEnvInt("STAGE1_TIMEOUT_SECONDS", 0)),
		MinStage2bBudget:    time.Second * time.Duration(getEnvInt("MIN_STAGE2B_BUDGET_SECONDS", 0)),

		ModelRuntime:      strings.ToLower(getEnv("MODEL_RUNTIME", RuntimeSynthetic)),
		ModelRuntimeURL:   os.Getenv("MODEL_RUNTIME_URL"),
		ModelRuntimeToken: os.Getenv("MODEL_RUNTIME_TOKEN"),
		AcceleratorSlots:  getEnvInt("ACCELERATOR_SLOTS", 1),

		FFmpegBin:    getEnv("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:   getEnv("FFPROBE_BIN", "ffprobe"),
		MediaTimeout: time.Second * time.Duration(getEnvInt("MEDIA_TIMEOUT_SECONDS", 120)),

		ImageFetchTimeout: time.Second * time.Duration(getEnvInt("IMAGE_FETCH_TIMEOUT_SECONDS", 30)),
		ImageMaxBytes:     int64(getEnvInt("IMAGE_MAX_BYTES", 20<<20)),

		BytePlusAPIKey:       os.Getenv("BYTEPLUS_API_KEY"),
		BytePlusBaseURL:      os.Getenv("BYTEPLUS_BASE_URL"),
		BytePlusModelID:      os.Getenv("BYTEPLUS_SEEDANCE_MODEL_ID"),
		RunwareEnabled:       getEnvBool("RUNWARE_ENABLED", false),
		RunwareAPIKey:        os.Getenv("RUNWARE_API_KEY"),
		RunwareBaseURL:       os.Getenv("RUNWARE_BASE_URL"),
		EvolinkAPIKey:        os.Getenv("EVOLINK_API_KEY"),
		EvolinkBaseURL:       os.Getenv("EVOLINK_BASE_URL"),
		VendorPollInterval:   time.Second * time.Duration(getEnvInt("VENDOR_POLL_INTERVAL_SECONDS", 5)),
		VendorMaxWait:        time.Second * time.Duration(getEnvInt("VENDOR_MAX_WAIT_SECONDS", 180)),
		VendorRequestTimeout: time.Second * time.Duration(getEnvInt("VENDOR_REQUEST_TIMEOUT_SECONDS", 60)),
	}
	cfg.ImageSourceAllowlist = imageAllowlist(getEnvList("IMAGE_SOURCE_HOST_ALLOWLIST"), cfg.S3Endpoint)

	switch cfg.StorageDriver {
	case StorageFilesystem:
	case StorageS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageFilesystem, StorageS3, cfg.StorageDriver)
	}

	switch cfg.ModelRuntime {
	case RuntimeSynthetic:
	case RuntimeRemote:
		if cfg.ModelRuntimeURL == "" {
			return nil, fmt.Errorf("MODEL_RUNTIME_URL is required when MODEL_RUNTIME=remote")
		}
	default:
		return nil, fmt.Errorf("MODEL_RUNTIME must be %q or %q, got %q", RuntimeSynthetic, RuntimeRemote, cfg.ModelRuntime)
	}

	if cfg.AcceleratorSlots < 1 {
		return nil, fmt.Errorf("ACCELERATOR_SLOTS must be at least 1")
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}

	return cfg, nil
}

// imageAllowlist merges the explicit allowlist with the object store host so
// that reference images served from our own bucket are always accepted. An
// empty result means any host.
func imageAllowlist(explicit []string, endpoint string) []string {
	if len(explicit) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(explicit)+1)
	add := func(h string) {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			seen[h] = struct{}{}
		}
	}
	for _, h := range explicit {
		add(h)
	}
	if endpoint != "" {
		if u, err := url.Parse(endpoint); err == nil {
			add(u.Hostname())
		}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

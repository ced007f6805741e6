// Package config loads the worker's typed configuration from TOML files,
// layered with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds every tunable the worker needs at startup.
type Config struct {
	JobsDBPath string       `toml:"jobs_db_path"`
	DataDir    string       `toml:"data_dir"`
	Scheduling Scheduling   `toml:"scheduling"`
	Cache      CacheConfig  `toml:"cache"`
	BlobStore  BlobStore    `toml:"blob_store"`
	Subprocess Subprocess   `toml:"subprocess"`
	Admin      AdminSurface `toml:"admin"`
	Video      VideoConfig  `toml:"video"`
}

// VideoConfig configures the video-style-transfer job type's post-process
// watermarking step.
type VideoConfig struct {
	WatermarkImagePath string `toml:"watermark_image_path"`
}

// Scheduling controls C10's batching, retry, and starvation-prevention policy.
type Scheduling struct {
	BatchSize                  int           `toml:"batch_size"`
	BatchWait                  time.Duration `toml:"batch_wait"`
	MaxAttempts                int           `toml:"max_attempts"`
	MaxConcurrency             int           `toml:"max_concurrency"`
	NoOpLoggerInterval         time.Duration `toml:"no_op_logger_interval"`
	StarvationPreventionEveryN int           `toml:"starvation_prevention_every_n"`
	BackoffStart               time.Duration `toml:"backoff_start"`
	BackoffIncrement           time.Duration `toml:"backoff_increment"`
}

// CacheConfig controls C1/C2/C3's capacities and cold-cache windows.
type CacheConfig struct {
	SemiPersistentDir         string        `toml:"semipersistent_dir"`
	SidecarMaxResidentModels  int           `toml:"sidecar_max_resident_models"`
	MemoryMaxColdDuration     time.Duration `toml:"memory_max_cold_duration"`
	MemoryCacheForgetDuration time.Duration `toml:"memory_cache_forget_duration"`
	DiskMaxColdDuration       time.Duration `toml:"disk_max_cold_duration"`
	DiskCacheForgetDuration   time.Duration `toml:"disk_cache_forget_duration"`
	EmergencyEvictCount       int           `toml:"emergency_evict_count"`
}

// BlobStore configures the S3-compatible object store client (C4).
type BlobStore struct {
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Subprocess configures the per-job-type sidecar invocation (C7).
type Subprocess struct {
	Timeout            time.Duration `toml:"timeout"`
	CancelPollInterval time.Duration `toml:"cancel_poll_interval"`
	TerminateGrace     time.Duration `toml:"terminate_grace"`
}

// AdminSurface configures the loopback health/progress HTTP listener.
type AdminSurface struct {
	ListenAddr string `toml:"listen_addr"`
}

// Default returns the configuration a fresh worker boots with absent any
// TOML file or environment override.
func Default() Config {
	return Config{
		JobsDBPath: "/var/lib/inferno/jobs.db",
		DataDir:    "/data/inferno",
		Scheduling: Scheduling{
			BatchSize:                  16,
			BatchWait:                  5 * time.Second,
			MaxAttempts:                3,
			MaxConcurrency:             8,
			NoOpLoggerInterval:         30 * time.Second,
			StarvationPreventionEveryN: 3,
			BackoffStart:               1 * time.Second,
			BackoffIncrement:           2 * time.Second,
		},
		Cache: CacheConfig{
			SemiPersistentDir:         "/data/inferno/cache",
			SidecarMaxResidentModels:  2,
			MemoryMaxColdDuration:     30 * time.Second,
			MemoryCacheForgetDuration: 5 * time.Minute,
			DiskMaxColdDuration:       2 * time.Minute,
			DiskCacheForgetDuration:   15 * time.Minute,
			EmergencyEvictCount:       3,
		},
		Subprocess: Subprocess{
			Timeout:            10 * time.Minute,
			CancelPollInterval: 30 * time.Second,
			TerminateGrace:     5 * time.Second,
		},
		Admin: AdminSurface{
			ListenAddr: "127.0.0.1:8090",
		},
		Video: VideoConfig{
			WatermarkImagePath: "",
		},
	}
}

// Load reads TOML files in order (later files override earlier ones),
// applies environment overrides on top, and returns the result.
func Load(paths ...string) (*Config, error) {
	cfg := Default()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Cache.SidecarMaxResidentModels <= 0 {
		return nil, fmt.Errorf("cache.sidecar_max_resident_models must be positive, got %d", cfg.Cache.SidecarMaxResidentModels)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JOBS_DB_PATH"); v != "" {
		cfg.JobsDBPath = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("JOB_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduling.BatchSize = n
		}
	}
	if v := os.Getenv("JOB_BATCH_WAIT_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduling.BatchWait = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("JOB_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduling.MaxAttempts = n
		}
	}
	if v := os.Getenv("NO_OP_LOGGER_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduling.NoOpLoggerInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("LOW_PRIORITY_STARVATION_PREVENTION_EVERY_NTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduling.StarvationPreventionEveryN = n
		}
	}
	if v := os.Getenv("SEMIPERSISTENT_CACHE_DIR"); v != "" {
		cfg.Cache.SemiPersistentDir = v
	}
	if v := os.Getenv("SIDECAR_MAX_SYNTHESIZER_MODELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.SidecarMaxResidentModels = n
		}
	}
	if v := os.Getenv("MEMORY_MAX_COLD_DURATION_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MemoryMaxColdDuration = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("MEMORY_CACHE_FORGET_DURATION_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MemoryCacheForgetDuration = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("DISK_MAX_COLD_DURATION_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DiskMaxColdDuration = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("DISK_CACHE_FORGET_DURATION_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DiskCacheForgetDuration = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("BLOB_BUCKET"); v != "" {
		cfg.BlobStore.Bucket = v
	}
	if v := os.Getenv("BLOB_REGION"); v != "" {
		cfg.BlobStore.Region = v
	}
	if v := os.Getenv("BLOB_ENDPOINT"); v != "" {
		cfg.BlobStore.Endpoint = v
	}
	if v := os.Getenv("BLOB_ACCESS_KEY"); v != "" {
		cfg.BlobStore.AccessKey = v
	}
	if v := os.Getenv("BLOB_SECRET_KEY"); v != "" {
		cfg.BlobStore.SecretKey = v
	}
	if v := os.Getenv("ADMIN_LISTEN_ADDR"); v != "" {
		cfg.Admin.ListenAddr = v
	}
	if v := os.Getenv("VIDEO_WATERMARK_IMAGE_PATH"); v != "" {
		cfg.Video.WatermarkImagePath = v
	}
}

package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

type Config struct {
	Inference InferenceConfig
	Queue     QueueConfig
	Results   ResultsConfig
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Pipeline  PipelineConfig
}

type InferenceConfig struct {
	URL     string        // base URL of the inference service (detector/embedder/liveness)
	Timeout time.Duration // per capability call
}

type EmbeddingConfig struct {
	Dim int // embedding dimensionality, must match the enrolled templates (default 512)
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int           // worker slots, one in-flight task each
	TaskTimeout   time.Duration // whole-task deadline
	MaxRetry      int
}

type ResultsConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration // result retention (default 1 hour)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
	HNSW         bool   // keep an in-memory HNSW index over enrolled templates
}

// PipelineConfig carries the gate thresholds. Defaults come from the embedded
// thresholds.yaml; the operationally tuned ones can be overridden by env vars.
type PipelineConfig struct {
	Quality    QualityConfig    `yaml:"quality"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Matching   MatchingConfig   `yaml:"matching"`
	Detection  DetectionConfig  `yaml:"detection"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
}

type QualityConfig struct {
	MinScore           float64        `yaml:"min_score"`
	BlurThreshold      float64        `yaml:"blur_threshold"`
	BrightnessMin      float64        `yaml:"brightness_min"`
	BrightnessMax      float64        `yaml:"brightness_max"`
	SharpnessFullScale float64        `yaml:"sharpness_full_scale"`
	ContrastFullScale  float64        `yaml:"contrast_full_scale"`
	Weights            QualityWeights `yaml:"weights"`
}

type QualityWeights struct {
	Brightness float64 `yaml:"brightness"`
	Sharpness  float64 `yaml:"sharpness"`
	Contrast   float64 `yaml:"contrast"`
}

type LivenessConfig struct {
	Enabled            bool    `yaml:"enabled"`
	AntiSpoofThreshold float64 `yaml:"anti_spoof_threshold"`
}

type MatchingConfig struct {
	RecognitionThreshold float64 `yaml:"recognition_threshold"`
}

type DetectionConfig struct {
	MinConfidence     float64 `yaml:"min_confidence"`
	MaxFacesPerImage  int     `yaml:"max_faces_per_image"`
	MinFaceSize       int     `yaml:"min_face_size"`
	IoUDedupThreshold float64 `yaml:"iou_dedup_threshold"`
}

type EnrollmentConfig struct {
	MinImages int `yaml:"min_images"`
	Quorum    int `yaml:"quorum"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean ("true"/"false"/"1"/"0").
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envDuration reads an environment variable as a time.Duration (e.g. "30s").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func Load() *Config {
	var pipeline PipelineConfig
	if err := yaml.Unmarshal(thresholdsYAML, &pipeline); err != nil {
		// Embedded file, so this only fires on a broken build.
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}

	// Operational overrides for the thresholds that deployments actually tune.
	pipeline.Quality.MinScore = envFloat("MIN_QUALITY_SCORE", pipeline.Quality.MinScore)
	pipeline.Liveness.Enabled = envBool("ENABLE_ANTI_SPOOFING", pipeline.Liveness.Enabled)
	pipeline.Liveness.AntiSpoofThreshold = envFloat("ANTI_SPOOFING_THRESHOLD", pipeline.Liveness.AntiSpoofThreshold)
	pipeline.Matching.RecognitionThreshold = envFloat("FACE_RECOGNITION_THRESHOLD", pipeline.Matching.RecognitionThreshold)
	pipeline.Detection.MinConfidence = envFloat("FACE_DETECTION_THRESHOLD", pipeline.Detection.MinConfidence)
	pipeline.Detection.MaxFacesPerImage = envInt("MAX_FACES_PER_IMAGE", pipeline.Detection.MaxFacesPerImage)
	pipeline.Enrollment.MinImages = envInt("ENROLL_MIN_IMAGES", pipeline.Enrollment.MinImages)
	pipeline.Enrollment.Quorum = envInt("ENROLL_QUORUM", pipeline.Enrollment.Quorum)

	return &Config{
		Inference: InferenceConfig{
			URL:     os.Getenv("INFERENCE_URL"),
			Timeout: envDuration("INFERENCE_TIMEOUT", 30*time.Second),
		},
		Queue: QueueConfig{
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       envInt("REDIS_QUEUE_DB", 1),
			Concurrency:   envInt("WORKER_CONCURRENCY", 4),
			TaskTimeout:   envDuration("TASK_TIMEOUT", 2*time.Minute),
			MaxRetry:      envInt("TASK_MAX_RETRY", 10),
		},
		Results: ResultsConfig{
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       envInt("REDIS_RESULTS_DB", 2),
			TTL:           envDuration("RESULT_TTL", time.Hour),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSW:         envBool("HNSW_ENABLED", true),
		},
		Embedding: EmbeddingConfig{
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Pipeline: pipeline,
	}
}

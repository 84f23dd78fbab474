package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Settings is the flat view of the process configuration. Every field can be
// overridden from the environment; unset variables keep the defaults.
type Settings struct {
	InputFolder     string `env:"INPUT_DIR"`
	OutputFolder    string `env:"OUTPUT_DIR"`
	StateFolder     string `env:"STATE_DIR"`
	MaxWorkers      int    `env:"WORKERS"`
	MaxShutdownTime int    `env:"MAX_SHUTDOWN_TIME"`

	ModelPath                 string   `env:"MODEL_PATH"`
	LabelsPath                string   `env:"LABELS_PATH"`
	ModelLayout               string   `env:"MODEL_LAYOUT"`
	ModelInputSize            int      `env:"MODEL_INPUT_SIZE"`
	ConfidenceThreshold       float32  `env:"CONFIDENCE_THRESHOLD"`
	ObjectConfidenceThreshold float32  `env:"OBJECT_CONFIDENCE_THRESHOLD"`
	NMSThreshold              float32  `env:"NMS_THRESHOLD"`
	AllowedClasses            []string `env:"ALLOWED_CLASSES" envSeparator:","`
	DetectionsLog             string   `env:"DETECTIONS_LOG"`

	TrackerMaxDistance float64 `env:"TRACKER_MAX_DISTANCE"`
	TrackerMaxMissed   int     `env:"TRACKER_MAX_MISSED"`

	OutputPrefix     string  `env:"OUTPUT_PREFIX"`
	OutputVideoExt   string  `env:"OUTPUT_VIDEO_EXT"`
	OutputVideoCodec string  `env:"OUTPUT_VIDEO_CODEC"`
	DefaultFPS       float64 `env:"DEFAULT_FPS"`

	LogLevel string `env:"LOG_LEVEL"`
	LogFile  string `env:"LOG_FILE"`
	Headless bool   `env:"HEADLESS"`

	MetricsPort  int    `env:"METRICS_PORT"`
	OtelEndpoint string `env:"OTEL_ENDPOINT"`
	WebhookURL   string `env:"WEBHOOK_URL"`
	DatabaseURL  string `env:"DATABASE_URL"`

	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL"`
	MinioBucket    string `env:"MINIO_BUCKET"`
}

// Defaults mirror the container layout: media in /app/input, artifacts in
// /app/output.
func Defaults() Settings {
	return Settings{
		InputFolder:     "/app/input",
		OutputFolder:    "/app/output",
		StateFolder:     "./state",
		MaxWorkers:      2,
		MaxShutdownTime: 5,

		ModelPath:                 "./models/yolov8n.onnx",
		ModelLayout:               "yolov8",
		ModelInputSize:            640,
		ConfidenceThreshold:       0.25,
		ObjectConfidenceThreshold: 0.25,
		NMSThreshold:              0.45,
		AllowedClasses:            []string{"person"},

		TrackerMaxDistance: 60,
		TrackerMaxMissed:   10,

		OutputPrefix:     "detected_",
		OutputVideoExt:   ".mp4",
		OutputVideoCodec: "mp4v",
		DefaultFPS:       25,

		LogLevel: "info",
		Headless: true,

		MinioBucket: "artifacts",
	}
}

func (s Settings) validate() error {
	if s.MaxWorkers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", s.MaxWorkers)
	}
	if s.ModelLayout != "yolov5" && s.ModelLayout != "yolov8" {
		return fmt.Errorf("MODEL_LAYOUT must be yolov5 or yolov8, got %q", s.ModelLayout)
	}
	if s.ModelInputSize <= 0 {
		return fmt.Errorf("MODEL_INPUT_SIZE must be positive, got %d", s.ModelInputSize)
	}
	if !strings.HasPrefix(s.OutputVideoExt, ".") {
		return fmt.Errorf("OUTPUT_VIDEO_EXT must start with a dot, got %q", s.OutputVideoExt)
	}
	if len(s.OutputVideoCodec) != 4 {
		return fmt.Errorf("OUTPUT_VIDEO_CODEC must be a fourcc, got %q", s.OutputVideoCodec)
	}
	if s.DefaultFPS <= 0 {
		return fmt.Errorf("DEFAULT_FPS must be positive, got %f", s.DefaultFPS)
	}
	if len(normalizeClasses(s.AllowedClasses)) == 0 {
		return fmt.Errorf("ALLOWED_CLASSES must name at least one class, got %q", strings.Join(s.AllowedClasses, ","))
	}
	if s.TrackerMaxDistance <= 0 || s.TrackerMaxMissed < 0 {
		return fmt.Errorf("invalid tracker parameters: distance=%f missed=%d", s.TrackerMaxDistance, s.TrackerMaxMissed)
	}
	return nil
}

func normalizeClasses(names []string) []string {
	classes := make([]string, 0, len(names))
	for _, c := range names {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			classes = append(classes, c)
		}
	}
	return classes
}

type settingsService struct {
	s Settings
}

// NewHardCoded returns the built-in defaults without looking at the environment.
func NewHardCoded() IService {
	return &settingsService{s: Defaults()}
}

// NewEnvVars overlays the environment on top of the defaults.
func NewEnvVars() (IService, error) {
	s := Defaults()
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("parse env vars: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &settingsService{s: s}, nil
}

// New wraps explicit settings.
func New(s Settings) (IService, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &settingsService{s: s}, nil
}

func (svc *settingsService) GetModeMaxShutdownTime() int {
	return svc.s.MaxShutdownTime
}

func (svc *settingsService) GetInputFolder() string {
	return svc.s.InputFolder
}

func (svc *settingsService) GetOutputFolder() string {
	return svc.s.OutputFolder
}

func (svc *settingsService) GetStateFolder() string {
	return svc.s.StateFolder
}

func (svc *settingsService) GetMaxWorkers() int {
	return svc.s.MaxWorkers
}

func (svc *settingsService) GetDetectorParameters() DetectorParameters {
	return DetectorParameters{
		ModelPath:                 svc.s.ModelPath,
		LabelsPath:                svc.s.LabelsPath,
		Layout:                    svc.s.ModelLayout,
		InputSize:                 svc.s.ModelInputSize,
		ConfidenceThreshold:       svc.s.ConfidenceThreshold,
		ObjectConfidenceThreshold: svc.s.ObjectConfidenceThreshold,
		NMSThreshold:              svc.s.NMSThreshold,
		AllowedClasses:            normalizeClasses(svc.s.AllowedClasses),
		DetectionsLog:             svc.s.DetectionsLog,
	}
}

func (svc *settingsService) GetTrackerParameters() TrackerParameters {
	return TrackerParameters{
		MaxDistance: svc.s.TrackerMaxDistance,
		MaxMissed:   svc.s.TrackerMaxMissed,
	}
}

func (svc *settingsService) GetWriterParameters() WriterParameters {
	return WriterParameters{
		Prefix:     svc.s.OutputPrefix,
		VideoExt:   strings.ToLower(svc.s.OutputVideoExt),
		VideoCodec: svc.s.OutputVideoCodec,
		DefaultFPS: svc.s.DefaultFPS,
	}
}

func (svc *settingsService) GetLogLevel() string {
	return svc.s.LogLevel
}

func (svc *settingsService) GetLogFile() string {
	return svc.s.LogFile
}

func (svc *settingsService) IsHeadless() bool {
	return svc.s.Headless
}

func (svc *settingsService) GetMetricsPort() int {
	return svc.s.MetricsPort
}

func (svc *settingsService) GetOtelEndpoint() string {
	return svc.s.OtelEndpoint
}

func (svc *settingsService) GetWebhookURL() string {
	return svc.s.WebhookURL
}

func (svc *settingsService) GetDatabaseURL() string {
	return svc.s.DatabaseURL
}

func (svc *settingsService) GetMinioParameters() MinioParameters {
	return MinioParameters{
		Endpoint:  svc.s.MinioEndpoint,
		AccessKey: svc.s.MinioAccessKey,
		SecretKey: svc.s.MinioSecretKey,
		UseSSL:    svc.s.MinioUseSSL,
		Bucket:    svc.s.MinioBucket,
	}
}

package config

type DetectorParameters struct {
	ModelPath                 string
	LabelsPath                string
	Layout                    string
	InputSize                 int
	ConfidenceThreshold       float32
	ObjectConfidenceThreshold float32
	NMSThreshold              float32
	AllowedClasses            []string
	DetectionsLog             string
}

type TrackerParameters struct {
	MaxDistance float64
	MaxMissed   int
}

type WriterParameters struct {
	Prefix     string
	VideoExt   string
	VideoCodec string
	DefaultFPS float64
}

type MinioParameters struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type IService interface {
	GetModeMaxShutdownTime() int
	GetInputFolder() string
	GetOutputFolder() string
	GetStateFolder() string
	GetMaxWorkers() int
	GetDetectorParameters() DetectorParameters
	GetTrackerParameters() TrackerParameters
	GetWriterParameters() WriterParameters
	GetLogLevel() string
	GetLogFile() string
	IsHeadless() bool
	GetMetricsPort() int
	GetOtelEndpoint() string
	GetWebhookURL() string
	GetDatabaseURL() string
	GetMinioParameters() MinioParameters
}

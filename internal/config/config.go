package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the name of the config file looked up in the config directory.
const FileName = "pdfzones.cfg.json"

// BridgeConfig holds the host bridge connection settings
type BridgeConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// DocumentConfig holds source document and generated document settings
type DocumentConfig struct {
	DefaultFilename string        `json:"defaultFilename" mapstructure:"defaultFilename"`
	OutputDir       string        `json:"outputDir" mapstructure:"outputDir"`
	UploadURL       string        `json:"uploadUrl" mapstructure:"uploadUrl"`
	APIKey          string        `json:"apiKey" mapstructure:"apiKey"`
	FetchTimeout    time.Duration `json:"fetchTimeout" mapstructure:"fetchTimeout"`
}

// BakeConfig holds re-bake scheduling and image fetching settings
type BakeConfig struct {
	Debounce         time.Duration `json:"debounce" mapstructure:"debounce"`
	ImageConcurrency int           `json:"imageConcurrency" mapstructure:"imageConcurrency"`
	ImageTimeout     time.Duration `json:"imageTimeout" mapstructure:"imageTimeout"`
}

// RenderConfig holds page rasterization settings
type RenderConfig struct {
	DevicePixelRatio float64 `json:"devicePixelRatio" mapstructure:"devicePixelRatio"`
	MinZoom          float64 `json:"minZoom" mapstructure:"minZoom"`
	MaxZoom          float64 `json:"maxZoom" mapstructure:"maxZoom"`
}

// MonitorConfig holds status monitor settings
type MonitorConfig struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
// Any key can be overridden by an environment variable such as
// PDFZONES_BRIDGE_URL.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("PDFZONES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("bridge.url", "ws://localhost:8787/bridge")
	viper.SetDefault("bridge.secret", "")

	viper.SetDefault("document.defaultFilename", "document.pdf")
	viper.SetDefault("document.outputDir", "")
	viper.SetDefault("document.uploadUrl", "")
	viper.SetDefault("document.apiKey", "")
	viper.SetDefault("document.fetchTimeout", "30s")

	viper.SetDefault("bake.debounce", "400ms")
	viper.SetDefault("bake.imageConcurrency", 4)
	viper.SetDefault("bake.imageTimeout", "15s")

	viper.SetDefault("render.devicePixelRatio", 1.0)
	viper.SetDefault("render.minZoom", 0.5)
	viper.SetDefault("render.maxZoom", 3.0)

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "10s")
	viper.SetDefault("monitor.statusFile", "status.json")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "pdfzones")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", false)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetBridgeConfig returns the host bridge settings.
func GetBridgeConfig() BridgeConfig {
	return BridgeConfig{
		URL:    viper.GetString("bridge.url"),
		Secret: viper.GetString("bridge.secret"),
	}
}

// GetDocumentConfig returns the document settings.
func GetDocumentConfig() DocumentConfig {
	return DocumentConfig{
		DefaultFilename: viper.GetString("document.defaultFilename"),
		OutputDir:       viper.GetString("document.outputDir"),
		UploadURL:       viper.GetString("document.uploadUrl"),
		APIKey:          viper.GetString("document.apiKey"),
		FetchTimeout:    viper.GetDuration("document.fetchTimeout"),
	}
}

// GetBakeConfig returns the bake settings.
func GetBakeConfig() BakeConfig {
	return BakeConfig{
		Debounce:         viper.GetDuration("bake.debounce"),
		ImageConcurrency: viper.GetInt("bake.imageConcurrency"),
		ImageTimeout:     viper.GetDuration("bake.imageTimeout"),
	}
}

// GetRenderConfig returns the render settings.
func GetRenderConfig() RenderConfig {
	return RenderConfig{
		DevicePixelRatio: viper.GetFloat64("render.devicePixelRatio"),
		MinZoom:          viper.GetFloat64("render.minZoom"),
		MaxZoom:          viper.GetFloat64("render.maxZoom"),
	}
}

// GetMonitorConfig returns the status monitor settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:    viper.GetBool("monitor.enabled"),
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

package config

import (
	_ "embed"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

type Config struct {
	Checker struct {
		ProbeURL     string `json:"probe_url"`
		Threads      uint32 `json:"threads"`
		Timeout      uint32 `json:"timeout"` // milliseconds per probe
		CheckerTimer Timer  `json:"checker_timer"`
	} `json:"checker"`

	Rotation struct {
		DefaultPolicy        string `json:"default_policy"`
		DeadTargetTTLSeconds uint32 `json:"dead_target_ttl_seconds"`
	} `json:"rotation"`

	Denylist struct {
		RulesURL       string `json:"rules_url"`
		RefreshSeconds uint32 `json:"refresh_seconds"`
	} `json:"denylist"`

	Server struct {
		ListenPort int `json:"listen_port"`
	} `json:"server"`

	Gateway struct {
		ListenPort        int    `json:"listen_port"`
		ForwardTimeout    uint32 `json:"forward_timeout"` // milliseconds
		MaxConcurrent     int64  `json:"max_concurrent"`
		RequireCredential bool   `json:"require_credential"`
		DefaultCredential string `json:"default_credential"`
	} `json:"gateway"`

	Activity struct {
		SinkURL   string `json:"sink_url"`
		QueueSize int    `json:"queue_size"`
	} `json:"activity"`

	GeoIP struct {
		DatabasePath string `json:"database_path"`
	} `json:"geoip"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex
)

func init() {
	configValue.Store(Config{})
}

func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			if err = os.MkdirAll("data", os.ModePerm); err != nil {
				log.Error("Error creating directory for settings file:", err)
				return
			}

			if err = os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm); err != nil {
				log.Error("Error writing default settings file:", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file:", err)
			return
		}
	}

	var newConfig Config
	if err = json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file:", err)
		return
	}

	applyConfigUpdate(newConfig, false)
	log.Debug("Settings file loaded successfully")
}

func SetConfig(newConfig Config) {
	applyConfigUpdate(newConfig, true)
	log.Debug("Configuration updated and written to file")
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func applyConfigUpdate(newConfig Config, persistToFile bool) {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	SetBetweenTime()

	if !persistToFile {
		return
	}

	data, err := json.MarshalIndent(newConfig, "", "  ")
	if err != nil {
		log.Error("Error marshalling new configuration:", err)
		return
	}
	if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
		log.Error("Error writing new configuration to file:", err)
	}
}

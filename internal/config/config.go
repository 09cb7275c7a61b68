package config

import "github.com/creasty/defaults"

const (
	ServerModeProd string = "prod"
	ServerModeDev  string = "dev"
)

// Configuration holds the process-level settings supplied through flags.
// Domain configuration (account, vehicles, cadences) lives in the YAML file
// pointed at by ConfigFile; see Exporter.
type Configuration struct {
	HTTPPort   int    `debugmap:"visible" default:"9536"`
	ServerMode string `debugmap:"visible" default:"dev"`
	ConfigFile string `debugmap:"visible" default:"/etc/jarvis/tesla-exporter.yaml"`

	// Log
	LogFormat string `debugmap:"visible" default:"console"`
	LogLevel  string `debugmap:"visible" default:"info"`
}

func NewConfiguration() *Configuration {
	cfg := &Configuration{}
	if err := defaults.Set(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// DebugMap returns the settings for startup logging.
func (c *Configuration) DebugMap() map[string]any {
	return map[string]any{
		"http-port":   c.HTTPPort,
		"server-mode": c.ServerMode,
		"config-file": c.ConfigFile,
		"log-format":  c.LogFormat,
		"log-level":   c.LogLevel,
	}
}

// Package config builds the single immutable configuration snapshot the rest
// of the process reads from. Everything is resolved once at startup from
// environment variables (and CLI flag overrides); nothing here is mutated
// afterward.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Adapter identifies which backend this process is configured to drive.
type Adapter string

const (
	AdapterXAI  Adapter = "xai"
	AdapterGroq Adapter = "groq"
)

// OSFamily is the host family used to template tool descriptions.
type OSFamily string

const (
	OSWindows OSFamily = "windows"
	OSUnix    OSFamily = "unix"
	OSDarwin  OSFamily = "darwin"
)

const (
	EnvPrefix = "CLAUDEPROXY"

	DefaultPortXAI  = 5000
	DefaultPortGroq = 5003

	DefaultHost = "127.0.0.1"

	// XAIAPIKeyEnv and GroqAPIKeyEnv are the credential variables read once at
	// start. Their values are never logged or echoed back to clients.
	XAIAPIKeyEnv  = "XAI_API_KEY"
	GroqAPIKeyEnv = "GROQ_API_KEY"
)

// Config is the frozen configuration for one process lifetime. Restart (the
// Runtime Console's "R" command) re-execs the process rather than mutating
// this struct.
type Config struct {
	Adapter    Adapter
	Host       string
	Port       int
	OSFamily   OSFamily
	XAIAPIKey  string
	GroqAPIKey string
	Verbose    bool
}

// ConfigError is a configuration-stage failure; the Process Entry maps it to
// exit code 2 (bad config) or 4 (missing credential).
type ConfigError struct {
	Message  string
	ExitCode int
}

func (e *ConfigError) Error() string { return e.Message }

// Load resolves the configuration from environment variables, overridden by
// the supplied flag values when non-zero. viper.AutomaticEnv with the
// CLAUDEPROXY_ prefix replaces scattered os.Getenv calls with one bound
// source of truth, per the teacher's move away from ad hoc environment reads.
func Load(adapterFlag string, portFlag int, osOverrideFlag string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	adapterStr := strings.ToLower(strings.TrimSpace(adapterFlag))
	if adapterStr == "" {
		adapterStr = strings.ToLower(strings.TrimSpace(v.GetString("ADAPTER")))
	}

	var adapter Adapter
	switch adapterStr {
	case string(AdapterXAI):
		adapter = AdapterXAI
	case string(AdapterGroq):
		adapter = AdapterGroq
	case "":
		return nil, &ConfigError{Message: "CLAUDEPROXY_ADAPTER (or --adapter) must be set to 'xai' or 'groq'", ExitCode: 2}
	default:
		return nil, &ConfigError{Message: fmt.Sprintf("unknown adapter %q: must be 'xai' or 'groq'", adapterStr), ExitCode: 2}
	}

	port := portFlag
	if port == 0 {
		port = v.GetInt("PORT")
	}
	if port == 0 {
		if adapter == AdapterXAI {
			port = DefaultPortXAI
		} else {
			port = DefaultPortGroq
		}
	}

	osFamily := detectOSFamily(osOverrideFlag, v.GetString("OS_OVERRIDE"))

	cfg := &Config{
		Adapter:  adapter,
		Host:     DefaultHost,
		Port:     port,
		OSFamily: osFamily,
	}

	// Credential variables are unprefixed (their names are fixed per backend),
	// so they are read directly rather than through the CLAUDEPROXY_-scoped
	// viper instance used for the rest of the configuration.
	switch adapter {
	case AdapterXAI:
		cfg.XAIAPIKey = strings.TrimSpace(os.Getenv(XAIAPIKeyEnv))
		if cfg.XAIAPIKey == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("%s is not set", XAIAPIKeyEnv), ExitCode: 4}
		}
	case AdapterGroq:
		cfg.GroqAPIKey = strings.TrimSpace(os.Getenv(GroqAPIKeyEnv))
		if cfg.GroqAPIKey == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("%s is not set", GroqAPIKeyEnv), ExitCode: 4}
		}
	}

	return cfg, nil
}

func detectOSFamily(overrides ...string) OSFamily {
	for _, o := range overrides {
		switch strings.ToLower(strings.TrimSpace(o)) {
		case string(OSWindows):
			return OSWindows
		case string(OSUnix):
			return OSUnix
		case string(OSDarwin):
			return OSDarwin
		}
	}

	switch runtime.GOOS {
	case "windows":
		return OSWindows
	case "darwin":
		return OSDarwin
	default:
		return OSUnix
	}
}

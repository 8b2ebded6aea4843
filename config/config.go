// Package config loads the mediator and controller's environment-based
// configuration, failing fast on anything unparseable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ConfigError marks an unparseable environment variable at startup; an
// unset variable falls back to its default and is not an error. It is
// always fatal: callers should log it and exit.
type ConfigError struct {
	Var string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Var, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// BrokerConfig is host/port/credentials for one broker endpoint.
type BrokerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Mediator is the full configuration for the mediator process.
type Mediator struct {
	LocalBroker  BrokerConfig
	RemoteBroker BrokerConfig
	CloudPrefix  string
	RegistryPath string
	RPCTimeout   time.Duration
	RPCRetries   int
	HTTPAddr     string
	LogLevel     string
	LogFormat    string
}

// Controller is the full configuration for the controller process.
type Controller struct {
	RemoteBroker BrokerConfig
	CloudPrefix  string
	RPCTimeout   time.Duration
	RPCRetries   int
	HTTPAddr     string
	LogLevel     string
	LogFormat    string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Var: key, Err: err}
	}
	return n, nil
}

func loadBroker(prefix string, defaultPort int) (BrokerConfig, error) {
	port, err := getenvInt(prefix+"_PORT", defaultPort)
	if err != nil {
		return BrokerConfig{}, err
	}
	return BrokerConfig{
		Host:     getenv(prefix+"_HOST", "localhost"),
		Port:     port,
		Username: os.Getenv(prefix + "_USER"),
		Password: os.Getenv(prefix + "_PASS"),
	}, nil
}

// LoadMediator reads the mediator's configuration from the environment.
func LoadMediator() (Mediator, error) {
	local, err := loadBroker("LOCAL_BROKER", 1883)
	if err != nil {
		return Mediator{}, err
	}
	remote, err := loadBroker("VM_BROKER", 1883)
	if err != nil {
		return Mediator{}, err
	}
	timeoutSecs, err := getenvInt("RPC_TIMEOUT", 8)
	if err != nil {
		return Mediator{}, err
	}
	retries, err := getenvInt("RPC_MAX_RETRIES", 3)
	if err != nil {
		return Mediator{}, err
	}

	return Mediator{
		LocalBroker:  local,
		RemoteBroker: remote,
		CloudPrefix:  getenv("VM_BASE_PREFIX", "devices"),
		RegistryPath: getenv("REGISTRY_PATH", "/data/devices.json"),
		RPCTimeout:   time.Duration(timeoutSecs) * time.Second,
		RPCRetries:   retries,
		HTTPAddr:     getenv("MEDIATOR_HTTP_ADDR", ":8012"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFormat:    getenv("LOG_FORMAT", "text"),
	}, nil
}

// LoadController reads the controller's configuration from the environment.
func LoadController() (Controller, error) {
	remote, err := loadBroker("VM_BROKER", 1883)
	if err != nil {
		return Controller{}, err
	}
	timeoutSecs, err := getenvInt("RPC_TIMEOUT", 8)
	if err != nil {
		return Controller{}, err
	}
	retries, err := getenvInt("RPC_MAX_RETRIES", 3)
	if err != nil {
		return Controller{}, err
	}

	return Controller{
		RemoteBroker: remote,
		CloudPrefix:  getenv("VM_BASE_PREFIX", "devices"),
		RPCTimeout:   time.Duration(timeoutSecs) * time.Second,
		RPCRetries:   retries,
		HTTPAddr:     getenv("CONTROLLER_HTTP_ADDR", ":8011"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFormat:    getenv("LOG_FORMAT", "text"),
	}, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Machine describes one wrapper host from the startup roster.
type Machine struct {
	IPAddress    string `json:"ip_address"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Preinstalled bool   `json:"preinstalled"`
}

// Config holds the registry configuration loaded once at startup.
type Config struct {
	// [database]
	DBName      string
	ResetOnBoot bool

	// [llm]
	Machines []Machine

	// [registry]
	ListenAddr       string
	DispatchInterval time.Duration
	HealthInterval   time.Duration
}

const (
	defaultListenAddr       = ":8080"
	defaultDispatchInterval = 5 * time.Second
	defaultHealthInterval   = 60 * time.Second
)

// Load reads an INI configuration file. A malformed file, a missing db_name
// or invalid roster JSON is a startup error; the caller is expected to treat
// it as fatal.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	cfg := &Config{
		ListenAddr:       defaultListenAddr,
		DispatchInterval: defaultDispatchInterval,
		HealthInterval:   defaultHealthInterval,
	}

	db := file.Section("database")
	cfg.DBName = db.Key("db_name").String()
	if cfg.DBName == "" {
		return nil, fmt.Errorf("config %s: [database] db_name is required", path)
	}
	cfg.ResetOnBoot = db.Key("reset_on_boot").MustBool(false)

	machinesJSON := file.Section("llm").Key("llm_wrapper_machines").String()
	if machinesJSON != "" {
		if err := json.Unmarshal([]byte(machinesJSON), &cfg.Machines); err != nil {
			return nil, fmt.Errorf("config %s: invalid llm_wrapper_machines JSON: %w", path, err)
		}
	}
	for i, m := range cfg.Machines {
		if m.IPAddress == "" {
			return nil, fmt.Errorf("config %s: llm_wrapper_machines[%d] is missing ip_address", path, i)
		}
	}

	reg := file.Section("registry")
	if v := reg.Key("listen_addr").String(); v != "" {
		cfg.ListenAddr = v
	}
	if v := reg.Key("dispatch_interval").String(); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config %s: invalid dispatch_interval: %w", path, err)
		}
		cfg.DispatchInterval = d
	}
	if v := reg.Key("health_interval").String(); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config %s: invalid health_interval: %w", path, err)
		}
		cfg.HealthInterval = d
	}

	return cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultBackendURL = "https://api.zeusfi.xyz/api/v1"

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	Select      string
	ResultsOnly bool
	Timeout     string
	Retries     int
	LogLevel    string
	BackendURL  string
}

type Settings struct {
	OutputMode   string
	SelectFields []string
	ResultsOnly  bool
	Timeout      time.Duration
	Retries      int

	BackendURL   string
	BackendToken string
	// RPCOverrides maps chain id to an RPC URL that replaces the registry default.
	RPCOverrides map[int64]string

	PollInterval     time.Duration
	ReceiptTimeout   time.Duration
	AllowanceBudget  time.Duration
	UnwindTimeout    time.Duration
	RegisterAttempts int
	RegisterBackoff  time.Duration

	StorePath     string
	StoreLockPath string

	RedisURL     string
	AMQPURL      string
	AMQPExchange string

	LogLevel  string
	LogFormat string

	// MetricsTextfile, when set, receives the flow metrics after each CLI
	// run in Prometheus text format.
	MetricsTextfile string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Backend struct {
		URL      string `yaml:"url"`
		Token    string `yaml:"token"`
		TokenEnv string `yaml:"token_env"`
	} `yaml:"backend"`
	RPC   map[int64]string `yaml:"rpc"`
	Flows struct {
		PollInterval     string `yaml:"poll_interval"`
		ReceiptTimeout   string `yaml:"receipt_timeout"`
		AllowanceBudget  string `yaml:"allowance_budget"`
		UnwindTimeout    string `yaml:"unwind_timeout"`
		RegisterAttempts *int   `yaml:"register_attempts"`
		RegisterBackoff  string `yaml:"register_backoff"`
		StorePath        string `yaml:"store_path"`
		LockPath         string `yaml:"lock_path"`
	} `yaml:"flows"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.RegisterAttempts < 1 {
		settings.RegisterAttempts = 1
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 2 * time.Second
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	dir, err := defaultStateDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:       "json",
		Timeout:          10 * time.Second,
		Retries:          2,
		BackendURL:       DefaultBackendURL,
		RPCOverrides:     map[int64]string{},
		PollInterval:     2 * time.Second,
		ReceiptTimeout:   2 * time.Minute,
		AllowanceBudget:  10 * time.Second,
		UnwindTimeout:    3 * time.Minute,
		RegisterAttempts: 3,
		RegisterBackoff:  2 * time.Second,
		StorePath:        filepath.Join(dir, "flows.db"),
		StoreLockPath:    filepath.Join(dir, "flows.lock"),
		AMQPExchange:     "vaultflow.flows",
		LogLevel:         "info",
		LogFormat:        "text",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv("VAULTFLOW_CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "vaultflow", "config.yaml"), nil
}

func defaultStateDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "vaultflow"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if err := parseDurationInto(cfg.Timeout, "timeout", &settings.Timeout); err != nil {
		return err
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}

	if cfg.Backend.URL != "" {
		settings.BackendURL = cfg.Backend.URL
	}
	if cfg.Backend.Token != "" {
		settings.BackendToken = cfg.Backend.Token
	}
	if cfg.Backend.TokenEnv != "" {
		settings.BackendToken = os.Getenv(cfg.Backend.TokenEnv)
	}
	for chainID, url := range cfg.RPC {
		if strings.TrimSpace(url) != "" {
			settings.RPCOverrides[chainID] = strings.TrimSpace(url)
		}
	}

	durations := []struct {
		raw   string
		field string
		dst   *time.Duration
	}{
		{cfg.Flows.PollInterval, "flows.poll_interval", &settings.PollInterval},
		{cfg.Flows.ReceiptTimeout, "flows.receipt_timeout", &settings.ReceiptTimeout},
		{cfg.Flows.AllowanceBudget, "flows.allowance_budget", &settings.AllowanceBudget},
		{cfg.Flows.UnwindTimeout, "flows.unwind_timeout", &settings.UnwindTimeout},
		{cfg.Flows.RegisterBackoff, "flows.register_backoff", &settings.RegisterBackoff},
	}
	for _, d := range durations {
		if err := parseDurationInto(d.raw, d.field, d.dst); err != nil {
			return err
		}
	}
	if cfg.Flows.RegisterAttempts != nil {
		settings.RegisterAttempts = *cfg.Flows.RegisterAttempts
	}
	if cfg.Flows.StorePath != "" {
		settings.StorePath = expandHome(cfg.Flows.StorePath)
	}
	if cfg.Flows.LockPath != "" {
		settings.StoreLockPath = expandHome(cfg.Flows.LockPath)
	}

	if cfg.Redis.URL != "" {
		settings.RedisURL = cfg.Redis.URL
	}
	if cfg.AMQP.URL != "" {
		settings.AMQPURL = cfg.AMQP.URL
	}
	if cfg.AMQP.Exchange != "" {
		settings.AMQPExchange = cfg.AMQP.Exchange
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}
	if cfg.Metrics.Textfile != "" {
		settings.MetricsTextfile = expandHome(cfg.Metrics.Textfile)
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("VAULTFLOW_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("VAULTFLOW_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("VAULTFLOW_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("VAULTFLOW_BACKEND_URL"); v != "" {
		settings.BackendURL = v
	}
	if v := os.Getenv("VAULTFLOW_BACKEND_TOKEN"); v != "" {
		settings.BackendToken = v
	}
	if v := os.Getenv("VAULTFLOW_REDIS_URL"); v != "" {
		settings.RedisURL = v
	}
	if v := os.Getenv("VAULTFLOW_AMQP_URL"); v != "" {
		settings.AMQPURL = v
	}
	if v := os.Getenv("VAULTFLOW_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("VAULTFLOW_UNWIND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.UnwindTimeout = d
		}
	}
	if v := os.Getenv("VAULTFLOW_FLOWS_PATH"); v != "" {
		settings.StorePath = v
	}
	if v := os.Getenv("VAULTFLOW_METRICS_TEXTFILE"); v != "" {
		settings.MetricsTextfile = v
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "VAULTFLOW_RPC_") || strings.TrimSpace(value) == "" {
			continue
		}
		chainID, err := strconv.ParseInt(strings.TrimPrefix(key, "VAULTFLOW_RPC_"), 10, 64)
		if err != nil {
			continue
		}
		settings.RPCOverrides[chainID] = strings.TrimSpace(value)
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.BackendURL != "" {
		settings.BackendURL = flags.BackendURL
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

func parseDurationInto(raw, field string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	*dst = d
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

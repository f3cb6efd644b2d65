package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const StorageMemory = "memory"

type Config struct {
	Env           string `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath   string `yaml:"storage_path" env:"STORAGE_PATH" env-required:"true"`
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	JWTSecret     string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	HTTPServer    `yaml:"http_server"`
	Locks         Locks         `yaml:"locks"`
	Notifications Notifications `yaml:"notifications"`
	Maintenance   Maintenance   `yaml:"maintenance"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout         time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"15s"`
}

type Locks struct {
	TTL           time.Duration `yaml:"ttl" env-default:"10s"`
	Wait          time.Duration `yaml:"wait" env-default:"2s"`
	RetryInterval time.Duration `yaml:"retry_interval" env-default:"50ms"`
}

type Notifications struct {
	RabbitURL string `yaml:"rabbit_url" env:"RABBIT_URL"`
	Exchange  string `yaml:"exchange" env-default:"training.notifications"`
	Workers   int    `yaml:"workers" env-default:"2"`
	Buffer    int    `yaml:"buffer" env-default:"256"`
}

type Maintenance struct {
	Enabled              bool          `yaml:"enabled" env-default:"true"`
	AutoCompleteInterval time.Duration `yaml:"auto_complete_interval" env-default:"5m"`
	ReminderInterval     time.Duration `yaml:"reminder_interval" env-default:"5m"`
	ReminderLead         time.Duration `yaml:"reminder_lead" env-default:"24h"`
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/local.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, &os.PathError{Op: "config", Path: configPath, Err: err}
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

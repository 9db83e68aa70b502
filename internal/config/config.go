package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddress string `env:"SERVER_ADDRESS,required"`
	Environment   string `env:"ENVIRONMENT,required"`
	Database      DatabaseConfig
	Migration     MigrationConfig
	Docflow       DocflowConfig
	Pipeline      PipelineConfig
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST,required"`
	Port     int    `env:"DB_PORT,required"`
	User     string `env:"DB_USER,required"`
	Password string `env:"DB_PASSWORD,required"`
	Name     string `env:"DB_NAME,required"`
	Params   string `env:"DB_PARAMS,required"`
}

type MigrationConfig struct {
	Dir string `env:"MIGRATION_DIR"`
}

// DocflowConfig points at the external statement-parsing / receipt-extraction
// service.
type DocflowConfig struct {
	BaseURL        string `env:"DOCFLOW_URL,required"`
	TimeoutSeconds int    `env:"DOCFLOW_TIMEOUT_SECONDS"`
}

// PipelineConfig tunes the reconciliation run itself.
type PipelineConfig struct {
	BatchSize       int   `env:"PROCESS_BATCH_SIZE"`
	CacheTTLSeconds int   `env:"CACHE_TTL_SECONDS"`
	CacheMaxBytes   int64 `env:"CACHE_MAX_BYTES"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("DOCFLOW_TIMEOUT_SECONDS", 120)
	viper.SetDefault("PROCESS_BATCH_SIZE", 8)
	viper.SetDefault("CACHE_TTL_SECONDS", 21600)
	viper.SetDefault("CACHE_MAX_BYTES", 90000)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{
		ServerAddress: viper.GetString("SERVER_ADDRESS"),
		Environment:   viper.GetString("ENVIRONMENT"),
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Name:     viper.GetString("DB_NAME"),
			Params:   viper.GetString("DB_PARAMS"),
		},
		Migration: MigrationConfig{
			Dir: viper.GetString("MIGRATION_DIR"),
		},
		Docflow: DocflowConfig{
			BaseURL:        viper.GetString("DOCFLOW_URL"),
			TimeoutSeconds: viper.GetInt("DOCFLOW_TIMEOUT_SECONDS"),
		},
		Pipeline: PipelineConfig{
			BatchSize:       viper.GetInt("PROCESS_BATCH_SIZE"),
			CacheTTLSeconds: viper.GetInt("CACHE_TTL_SECONDS"),
			CacheMaxBytes:   viper.GetInt64("CACHE_MAX_BYTES"),
		},
	}

	return config, nil
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}

// GetMigrationDBURL returns the database URL for migrations
func (c *Config) GetMigrationDBURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}

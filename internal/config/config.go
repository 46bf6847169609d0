// Package config loads the server configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/repackradar/repackradar/pkg/database"
)

// Config holds the central application configuration.
type Config struct {
	// Server settings
	Server struct {
		ListenAddr string `mapstructure:"listen_addr"` // HTTP listen address
		PublicURL  string `mapstructure:"public_url"`  // Base URL used in proxied image links
	} `mapstructure:"server"`

	// Challenge solver settings
	Solver struct {
		URL       string `mapstructure:"url"`        // Solver endpoint, empty disables the cookie flow
		UserAgent string `mapstructure:"user_agent"` // User agent the solver browses with
	} `mapstructure:"solver"`

	// Decrypt settings
	Decrypt struct {
		APIURL   string `mapstructure:"api_url"`   // Wrapper decryption API
		ProxyURL string `mapstructure:"proxy_url"` // Relay proxy fallback, empty disables it
	} `mapstructure:"decrypt"`

	// Cache settings
	Cache struct {
		DBPath       string `mapstructure:"db_path"`       // SQLite database path
		FreshSeconds int    `mapstructure:"fresh_seconds"` // Response cache fresh window
		StaleSeconds int    `mapstructure:"stale_seconds"` // Response cache total lifetime
	} `mapstructure:"cache"`
}

// LoadConfig loads the configuration from a file, falling back to
// defaults when the file is absent.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	// If path is relative, try current directory first, then executable directory
	if !filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			if execPath, err := database.DefaultPath(path); err == nil {
				if _, err := os.Stat(execPath); err == nil {
					path = execPath
				}
			}
		}
	}

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Set default values
	viper.SetDefault("server.listen_addr", ":8080")
	viper.SetDefault("server.public_url", "")

	viper.SetDefault("solver.url", "")
	viper.SetDefault("solver.user_agent", "repackradar-search/1.0")

	viper.SetDefault("decrypt.api_url", "https://crypt.cybar.xyz/api/decrypt")
	viper.SetDefault("decrypt.proxy_url", "")

	viper.SetDefault("cache.db_path", "repackradar.db")
	viper.SetDefault("cache.fresh_seconds", 3600)
	viper.SetDefault("cache.stale_seconds", 7200)

	// Read configuration file
	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine - defaults apply
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

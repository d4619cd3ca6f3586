package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/apex/log"
	"github.com/mitchellh/go-homedir"
	"github.com/subosito/gotenv"
)

type DotenvConfig struct {
	DotenvPath string
}

func NewDotenvConfig(path string) *DotenvConfig {
	return &DotenvConfig{DotenvPath: path}
}

// MustLoadFromDriveDotenv loads the daemon configuration from
// $HOME/.drived/.env. Missing file is not fatal; the environment may
// already carry everything needed.
func MustLoadFromDriveDotenv() Configer {
	dir, err := homedir.Expand("~/.drived")
	if err != nil {
		log.Fatalf("Unable to determine home directory: %s", err)
	}

	c := NewDotenvConfig(filepath.Join(dir, ".env"))
	_ = c.Load()

	return c
}

func (c *DotenvConfig) LoadFromPath(path string) error {
	c.DotenvPath = path
	return gotenv.Load(c.DotenvPath)
}

func (c *DotenvConfig) Load() error {
	return gotenv.Load(c.DotenvPath)
}

func (c *DotenvConfig) GetKey(key string) string {
	return os.Getenv(key)
}

func (c *DotenvConfig) MustGetKey(key string) string {
	val := c.GetKey(key)
	if val == "" {
		log.Fatalf("No such required config key: '%s'", key)
	}

	return val
}

func (c *DotenvConfig) GetKeyWithDefault(key, defaultValue string) string {
	val := c.GetKey(key)
	if val == "" {
		return defaultValue
	}

	return val
}

func (c *DotenvConfig) GetIntKey(key string) int {
	val, err := strconv.Atoi(c.GetKey(key))
	if err != nil {
		return 0
	}

	return val
}

func (c *DotenvConfig) MustGetIntKey(key string) int {
	val, err := strconv.Atoi(c.GetKey(key))
	if err != nil {
		log.Fatalf("Required config key either doesn't exist or isn't an int: '%s': %s", key, err)
	}

	return val
}

func (c *DotenvConfig) GetIntKeyWithDefault(key string, defaultValue int) int {
	val, err := strconv.Atoi(c.GetKey(key))
	if err != nil {
		return defaultValue
	}

	return val
}

func (c *DotenvConfig) GetInt64KeyWithDefault(key string, defaultValue int64) int64 {
	val, err := strconv.ParseInt(c.GetKey(key), 10, 64)
	if err != nil {
		return defaultValue
	}

	return val
}

func (c *DotenvConfig) GetBoolKeyWithDefault(key string, defaultValue bool) bool {
	val, err := strconv.ParseBool(c.GetKey(key))
	if err != nil {
		return defaultValue
	}

	return val
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapConfig(t *testing.T) {
	c := NewMapConfig(map[string]string{
		"DRIVED_PORT":                 "1350",
		"DRIVED_RETRY_DELAY_SECONDS":  "45",
		"DRIVED_UPLOADS_REQUIRE_WIFI": "true",
	})

	assert.Equal(t, "1350", c.GetKey("DRIVED_PORT"))
	assert.Equal(t, "9999", c.GetKeyWithDefault("MISSING", "9999"))
	assert.Equal(t, int64(45), c.GetInt64KeyWithDefault("DRIVED_RETRY_DELAY_SECONDS", 30))
	assert.Equal(t, int64(30), c.GetInt64KeyWithDefault("MISSING", 30))
	assert.True(t, c.GetBoolKeyWithDefault("DRIVED_UPLOADS_REQUIRE_WIFI", false))
	assert.False(t, c.GetBoolKeyWithDefault("MISSING", false))
}

func TestDotenvConfigLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DRIVED_PORT=2450\nDB_DRIVER=sqlite\n"), 0644))

	c := NewDotenvConfig(path)
	require.NoError(t, c.Load())

	assert.Equal(t, "2450", c.GetKey("DRIVED_PORT"))
	assert.Equal(t, "sqlite", c.GetKey("DB_DRIVER"))
	assert.Equal(t, "", c.GetKey("MISSING"))
}

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetString(t *testing.T) {
	fields := map[string]interface{}{"name": "alice", "wrong_type": 5}
	assert.Equal(t, "alice", getString(fields, "name"))
	assert.Equal(t, "", getString(fields, "missing"))
	assert.Equal(t, "", getString(fields, "wrong_type"))
}

func TestGetInt(t *testing.T) {
	fields := map[string]interface{}{"priority": float64(2), "wrong_type": "nope"}
	assert.Equal(t, 2, getInt(fields, "priority", 3))
	assert.Equal(t, 3, getInt(fields, "missing", 3))
	assert.Equal(t, 3, getInt(fields, "wrong_type", 3))
}

func TestGetStringSlice(t *testing.T) {
	fields := map[string]interface{}{
		"channels": []interface{}{"general", "eng"},
		"empty":    []interface{}{},
	}
	assert.Equal(t, []string{"general", "eng"}, getStringSlice(fields, "channels"))
	assert.Nil(t, getStringSlice(fields, "missing"))
	assert.Empty(t, getStringSlice(fields, "empty"))
}

func TestGetStringMap(t *testing.T) {
	fields := map[string]interface{}{
		"env": map[string]interface{}{"FOO": "bar", "wrong_type": 5},
	}
	got := getStringMap(fields, "env")
	assert.Equal(t, "bar", got["FOO"])
	_, ok := got["wrong_type"]
	assert.False(t, ok)
	assert.Nil(t, getStringMap(fields, "missing"))
}

func TestReadRSS_UnknownPIDReturnsZero(t *testing.T) {
	assert.Equal(t, int64(0), readRSS(-1))
}

package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigEntriesDefault(t *testing.T) {
	var c Config
	assert.Equal(t, uint32(DefaultEntries), c.entries())
	c.Entries = 64
	assert.Equal(t, uint32(64), c.entries())
}

func TestConfigObserverDefault(t *testing.T) {
	var c Config
	assert.IsType(t, NoOpObserver{}, c.observer())

	custom := NoOpObserver{}
	c.Observer = custom
	assert.Equal(t, custom, c.observer())
}

func TestConfigLoggerDefault(t *testing.T) {
	var c Config
	assert.IsType(t, NoOpLogger{}, c.logger())

	custom := NoOpLogger{}
	c.Logger = custom
	assert.Equal(t, custom, c.logger())
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/finrag/config"
)

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"AAPL", "MSFT"}, splitList(" AAPL, ,MSFT "))
}

func TestInitLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger := initLogger(config.LogConfig{Level: "debug", Format: format})
		assert.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(-1))
	}
	logger := initLogger(config.LogConfig{Level: "bogus"})
	assert.False(t, logger.Core().Enabled(-1))
}

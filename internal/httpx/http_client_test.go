package httpx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExternalHTTPClientDefaults(t *testing.T) {
	client := ExternalHTTPClient()
	assert.Same(t, externalHTTPClient, client)
	assert.Equal(t, defaultExternalHTTPTimeout, client.Timeout)
}

func TestConfigureExternalHTTPClient(t *testing.T) {
	original := externalHTTPClient.Timeout
	t.Cleanup(func() {
		externalHTTPClient.Timeout = original
	})

	assert.Equal(t, defaultExternalHTTPTimeout, ConfigureExternalHTTPClient(0))
	assert.Equal(t, defaultExternalHTTPTimeout, ExternalHTTPClient().Timeout)

	assert.Equal(t, 120*time.Second, ConfigureExternalHTTPClient(120))
	assert.Equal(t, 120*time.Second, ExternalHTTPClient().Timeout)
}

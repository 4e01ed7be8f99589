package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
)

func TestNewDefaultsAndValidation(t *testing.T) {
	t.Run("valid descriptor defaults port to 8080", func(t *testing.T) {
		d, err := New("client-a", "key-a", "producer1", "host.example.com", 0, false)
		require.NoError(t, err)
		assert.Equal(t, 8080, d.ServerPort)
	})

	t.Run("explicit port is preserved", func(t *testing.T) {
		d, err := New("client-a", "key-a", "producer1", "host.example.com", 9090, true)
		require.NoError(t, err)
		assert.Equal(t, 9090, d.ServerPort)
		assert.True(t, d.TLS)
	})

	cases := []struct {
		name       string
		clientName string
		clientKey  string
		serverName string
		serverHost string
		serverPort int
	}{
		{name: "blank client name", clientName: "", clientKey: "k", serverName: "s1", serverHost: "h", serverPort: 0},
		{name: "blank client key", clientName: "c", clientKey: "", serverName: "s1", serverHost: "h", serverPort: 0},
		{name: "blank server host", clientName: "c", clientKey: "k", serverName: "s1", serverHost: "", serverPort: 0},
		{name: "non-alphanumeric server name", clientName: "c", clientKey: "k", serverName: "s-1", serverHost: "h", serverPort: 0},
		{name: "negative server port", clientName: "c", clientKey: "k", serverName: "s1", serverHost: "h", serverPort: -1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.clientName, tc.clientKey, tc.serverName, tc.serverHost, tc.serverPort, false)
			require.Error(t, err)
			var cfgErr *ferrors.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

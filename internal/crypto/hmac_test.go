package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACHeadersAt_Deterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key123", Secret: "secret456"}

	a := auth.HeadersAt("POST", "/api/v1/orders", `{"symbol":"ETHUSDT"}`, 1756500000)
	b := auth.HeadersAt("POST", "/api/v1/orders", `{"symbol":"ETHUSDT"}`, 1756500000)
	assert.Equal(t, a, b)

	require.Equal(t, "key123", a["X-API-KEY"])
	require.Equal(t, "1756500000", a["X-TIMESTAMP"])
	assert.Len(t, a["X-SIGNATURE"], 64) // hex SHA-256
}

func TestHMACHeadersAt_SignatureCoversAllInputs(t *testing.T) {
	auth := &HMACAuth{Key: "k", Secret: "s"}
	base := auth.HeadersAt("GET", "/path", "", 100)

	variants := []map[string]string{
		auth.HeadersAt("POST", "/path", "", 100),
		auth.HeadersAt("GET", "/other", "", 100),
		auth.HeadersAt("GET", "/path", "body", 100),
		auth.HeadersAt("GET", "/path", "", 101),
	}
	for i, v := range variants {
		assert.NotEqual(t, base["X-SIGNATURE"], v["X-SIGNATURE"], "variant %d", i)
	}

	other := &HMACAuth{Key: "k", Secret: "different"}
	assert.NotEqual(t, base["X-SIGNATURE"], other.HeadersAt("GET", "/path", "", 100)["X-SIGNATURE"])
}

func TestHMACAuthString_Redacted(t *testing.T) {
	auth := &HMACAuth{Key: "key12345", Secret: "secret9876"}
	s := auth.String()
	assert.NotContains(t, s, "key12345")
	assert.NotContains(t, s, "secret9876")
	assert.Contains(t, s, "key1****")
}

// Package connection defines ConnectionDescriptor, the immutable record
// identifying a federator peer. It is constructed once at startup from
// configuration and validated eagerly, following the fail-fast
// ConfigurationError pattern used across this repository.
package connection

import (
	"strings"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
)

const defaultServerPort = 8080

// Descriptor is the immutable (clientName, clientKey, serverName,
// serverHost, serverPort, tls) tuple a consumer uses to dial one producer.
type Descriptor struct {
	ClientName string
	ClientKey  string
	ServerName string
	ServerHost string
	ServerPort int
	TLS        bool
}

// New constructs a Descriptor, applying defaults (serverPort=8080,
// tls=false) and enforcing its invariants: blank clientName/clientKey/
// serverHost, a non-alphanumeric serverName, or a negative serverPort are
// rejected with a precise *ferrors.ConfigurationError.
func New(clientName, clientKey, serverName, serverHost string, serverPort int, tls bool) (*Descriptor, error) {
	if strings.TrimSpace(clientName) == "" {
		return nil, &ferrors.ConfigurationError{Field: "clientName", Reason: "must not be blank"}
	}
	if strings.TrimSpace(clientKey) == "" {
		return nil, &ferrors.ConfigurationError{Field: "clientKey", Reason: "must not be blank"}
	}
	if strings.TrimSpace(serverHost) == "" {
		return nil, &ferrors.ConfigurationError{Field: "serverHost", Reason: "must not be blank"}
	}
	if !isAlphanumeric(serverName) {
		return nil, &ferrors.ConfigurationError{Field: "serverName", Reason: "must be alphanumeric and non-blank"}
	}
	if serverPort < 0 {
		return nil, &ferrors.ConfigurationError{Field: "serverPort", Reason: "must not be negative"}
	}
	if serverPort == 0 {
		serverPort = defaultServerPort
	}

	return &Descriptor{
		ClientName: clientName,
		ClientKey:  clientKey,
		ServerName: serverName,
		ServerHost: serverHost,
		ServerPort: serverPort,
		TLS:        tls,
	}, nil
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

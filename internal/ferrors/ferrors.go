// Package ferrors defines the error taxonomy shared across the federator's
// producer and consumer sides. Each type carries the structured fields a
// caller needs to log or map onto a gRPC status code; none of them are
// fatal by construction, callers decide that from context.
package ferrors

import "fmt"

// ConfigurationError indicates missing or invalid configuration discovered
// at startup. Callers should treat this as fatal and exit non-zero.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// AuthError covers inbound authentication/authorization failures: a missing
// or invalid bearer token, or a caller unauthorized for the requested topic.
type AuthError struct {
	ClientID string
	Topic    string
	Reason   string
	// Unauthorized is true when the token was valid but the caller was
	// not permitted; false when the token itself was missing/invalid/expired.
	Unauthorized bool
}

func (e *AuthError) Error() string {
	if e.Unauthorized {
		return fmt.Sprintf("caller %q not authorized for topic %q: %s", e.ClientID, e.Topic, e.Reason)
	}
	return fmt.Sprintf("authentication failed for %q: %s", e.ClientID, e.Reason)
}

// TokenFetchError wraps a failure to obtain or verify a token from the IDP.
// Retried per the credential broker's resilience policy; the circuit
// breaker opens on sustained failure.
type TokenFetchError struct {
	Endpoint string
	Err      error
}

func (e *TokenFetchError) Error() string {
	return fmt.Sprintf("token fetch against %s failed: %v", e.Endpoint, e.Err)
}

func (e *TokenFetchError) Unwrap() error { return e.Err }

// FilterParseError indicates a malformed Security-Label header. The
// offending record is dropped; the stream continues.
type FilterParseError struct {
	Raw    string
	Reason string
}

func (e *FilterParseError) Error() string {
	return fmt.Sprintf("cannot parse security label %q: %s", e.Raw, e.Reason)
}

// FileAssemblyError indicates a checksum or size mismatch while assembling
// a chunked file. The partial file is removed and the offset is not
// advanced for that stream.
type FileAssemblyError struct {
	FileName   string
	SequenceID int64
	Reason     string
}

func (e *FileAssemblyError) Error() string {
	return fmt.Sprintf("file assembly failed for %q (seq=%d): %s", e.FileName, e.SequenceID, e.Reason)
}

// TransportError wraps a transient network failure on the RPC channel. The
// streaming conductor retries per its policy starting from the last
// persisted offset.
type TransportError struct {
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on topic %q: %v", e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError is emitted by the producer-side File Stream Service as a
// StreamWarning rather than surfaced as a Go error to the transport; it is
// defined here so both sides share one vocabulary for the reason field.
type ValidationError struct {
	SequenceID int64
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for sequence %d: %s", e.SequenceID, e.Reason)
}

// DeserializationError mirrors ValidationError for descriptor decode
// failures read off the local topic.
type DeserializationError struct {
	SequenceID int64
	Reason     string
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialization failed for sequence %d: %s", e.SequenceID, e.Reason)
}

// CircuitOpenError is returned by the retry decorator when the breaker for
// an operation is open; callers surface this to their scheduler instead of
// retrying directly.
type CircuitOpenError struct {
	Operation string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q", e.Operation)
}

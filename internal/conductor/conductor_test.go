package conductor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
)

func TestAsCircuitOpenMatches(t *testing.T) {
	var target *ferrors.CircuitOpenError
	err := &ferrors.CircuitOpenError{Operation: "conductor.server1.orders"}

	ok := asCircuitOpen(err, &target)
	assert.True(t, ok)
	assert.Equal(t, "conductor.server1.orders", target.Operation)
}

func TestAsCircuitOpenRejectsOtherErrors(t *testing.T) {
	var target *ferrors.CircuitOpenError
	ok := asCircuitOpen(errors.New("boring error"), &target)
	assert.False(t, ok)
	assert.Nil(t, target)
}

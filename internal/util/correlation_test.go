package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", CorrelationID(ctx))
	assert.Equal(t, "", CorrelationID(context.Background()))
}

func TestNewCorrelationIDUnique(t *testing.T) {
	assert.NotEqual(t, NewCorrelationID(), NewCorrelationID())
	assert.Len(t, NewCorrelationID(), 36)
}

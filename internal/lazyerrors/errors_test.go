package lazyerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesChain(t *testing.T) {
	err := Wrap(ErrUnknownScript, "resolving requested task")
	assert.True(t, errors.Is(err, ErrUnknownScript))
	assert.Equal(t, "resolving requested task: unknown script", err.Error())
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "no error here"))
	assert.Nil(t, Wrapf(nil, "no error %d", 1))
}

func TestWrapfFormatsMessage(t *testing.T) {
	err := Wrapf(ErrCycleDetected, "building graph for %q", "build")
	assert.True(t, errors.Is(err, ErrCycleDetected))
	assert.Equal(t, `building graph for "build": cycle detected`, err.Error())
}

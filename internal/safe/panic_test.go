package safe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPanicErr(t *testing.T) {
	err := NewPanicErr("info", []byte("stack"))
	assert.Equal(t, "panic: info\nstack: stack", err.Error())
	assert.True(t, IsPanic(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsPanic(fmt.Errorf("plain")))
}

package token

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCode_Shape(t *testing.T) {
	code, err := NewCode(6)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{6}$`), code)
}

func TestNewCode_RejectsNonPositiveLength(t *testing.T) {
	_, err := NewCode(0)
	assert.Error(t, err)
}

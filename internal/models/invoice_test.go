package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatURN(t *testing.T) {
	assert.Equal(t, "1005-1", FormatURN(5+StudentNumOffset, 1))
	assert.Equal(t, "1042-17", FormatURN(1042, 17))
}

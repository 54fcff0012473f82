package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidAvailability(t *testing.T) {
	assert.True(t, ValidAvailability(""))
	assert.True(t, ValidAvailability("MON"))
	assert.True(t, ValidAvailability("MON,WED,FRI"))
	assert.True(t, ValidAvailability("MON, WED , FRI"))
	assert.True(t, ValidAvailability("SAT,SUN"))

	assert.False(t, ValidAvailability("FUNDAY"))
	assert.False(t, ValidAvailability("MON,XYZ"))
	assert.False(t, ValidAvailability("mon"))
	assert.False(t, ValidAvailability("MON,,WED"))
}

package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockMode_StringRendersKnownModes(t *testing.T) {
	assert.Equal(t, "NONE", LockNone.String())
	assert.Equal(t, "READ", LockRead.String())
	assert.Equal(t, "WRITE_NOWAIT", LockWriteNoWait.String())
	assert.Equal(t, "UNKNOWN", LockMode(99).String())
}

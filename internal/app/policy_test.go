package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimplePolicyKicks(t *testing.T) {
	assert.Equal(t, KickMember, SimplePolicy{}.OnBackPressure(nil, nil))
	assert.Equal(t, "kick", KickMember.String())
	assert.Equal(t, "drop", DropFrame.String())
	assert.Equal(t, "none", NoAction.String())
}

package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pbftkv/membership"
)

func TestStartRejectsUnknownNode(t *testing.T) {
	cluster := membership.DefaultLoopback(t.TempDir())
	_, err := Start(nil, cluster, 99)
	assert.Error(t, err)
}

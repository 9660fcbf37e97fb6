package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyNamespacing(t *testing.T) {
	assert.Equal(t, "egldtax:report:x", (&Client{prefix: "egldtax"}).Key("report:x"))
	assert.Equal(t, "report:x", (&Client{}).Key("report:x"))
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}

package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRouter_DisabledIsInMemory(t *testing.T) {
	router, err := BuildRouter(RedisSettings{Enabled: false}, false)
	require.NoError(t, err)
	require.NotNil(t, router)
	require.NoError(t, router.Close())
}

func TestBuildGroupSubscriber(t *testing.T) {
	// Construction is lazy; no redis server is contacted until Subscribe.
	sub, err := BuildGroupSubscriber("localhost:6379", "mozaiks-chat", "projector-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.NoError(t, sub.Close())
}

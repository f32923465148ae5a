package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pubmemory "github.com/JakeFAU/reposync/internal/publisher/memory"
	storagememory "github.com/JakeFAU/reposync/internal/storage/memory"
)

func TestNewServicesFallsBackToMemorySinks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.GitHub.APIURL = "http://127.0.0.1:1"
	cfg.GitHub.TimeoutSeconds = 1
	cfg.GitHub.MaxAttempts = 1

	svc, err := NewServices(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	require.IsType(t, &pubmemory.Publisher{}, svc.Publisher)
	require.IsType(t, &storagememory.BlobStore{}, svc.Blobs)
	require.Nil(t, svc.Mirror)
	require.NotNil(t, svc.API)
	require.NotNil(t, svc.Wiki)

	a, err := New(cfg, svc.Deps, zap.NewNop())
	require.NoError(t, err)
	summary, err := a.Refresh(context.Background())
	require.NoError(t, err)

	msgs := svc.Publisher.(*pubmemory.Publisher).Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, RunFinishedEvent, msgs[0].Topic)
	require.Equal(t, summary, msgs[0].Payload)
}

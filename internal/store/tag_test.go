package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetTagReturnsZeroValueWhenUnset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tag, err := s.GetTag(ctx, "infra")
	require.NoError(t, err)
	require.Equal(t, "infra", tag.Name)
	require.Zero(t, tag.Maintenance)
}

func TestSetTagMaintenanceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetTagMaintenance(ctx, "infra", 1700000000))

	got, err := s.GetTag(ctx, "infra")
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), got.Maintenance)
}

func TestEffectiveMaintenanceIsMaxAcrossTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetTagMaintenance(ctx, "infra", 100))
	require.NoError(t, s.SetTagMaintenance(ctx, "cpu", 500))

	max, err := s.EffectiveMaintenance(ctx, []string{"infra", "cpu", "unset-tag"})
	require.NoError(t, err)
	require.Equal(t, int64(500), max)
}

func TestRemoveTagClearsDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetTagMaintenance(ctx, "infra", 100))
	require.NoError(t, s.RemoveTag(ctx, "infra"))

	got, err := s.GetTag(ctx, "infra")
	require.NoError(t, err)
	require.Zero(t, got.Maintenance)
}

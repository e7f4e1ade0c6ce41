//go:build integration

package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"libsync/pkg/testutil/containers"
)

func TestOpenPoolsAgainstPostgres(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()

	pools, err := OpenPools(ctx, pg.DSN, pg.DSN, "", 4, 2)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pools.Close()) })

	require.Same(t, pools.Write, pools.Read)
	require.Same(t, pools.Write, pools.Admin)
	require.NoError(t, pools.Health(ctx))
}

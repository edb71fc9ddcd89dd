//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/contactlink/identity-server/internal/model"
	repo "github.com/contactlink/identity-server/internal/repository/postgres"
	"github.com/contactlink/identity-server/internal/service"
	"github.com/contactlink/identity-server/internal/testutil"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "contactlink_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic(err)
	}
	dsn = fmt.Sprintf("postgres://postgres:password@%s:%s/contactlink_test?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func strPtr(s string) *string {
	return &s
}

func TestContactRepository_Primitives(t *testing.T) {
	ctx := context.Background()
	conn, err := repo.NewConnection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	cr := repo.NewContactRepository(conn)

	root, err := cr.Create(ctx, model.CreateContactParams{
		Email:      strPtr("root@example.com"),
		Phone:      strPtr("111"),
		Precedence: model.LinkPrecedencePrimary,
	})
	require.NoError(t, err)
	require.NotZero(t, root.ID)
	require.Equal(t, model.LinkPrecedencePrimary, root.Precedence)
	require.Nil(t, root.LinkedID)

	member, err := cr.Create(ctx, model.CreateContactParams{
		Email:      strPtr("member@example.com"),
		Phone:      strPtr("111"),
		LinkedID:   &root.ID,
		Precedence: model.LinkPrecedenceSecondary,
	})
	require.NoError(t, err)

	t.Run("get_by_id", func(t *testing.T) {
		got, err := cr.GetByID(ctx, root.ID)
		require.NoError(t, err)
		assert.Equal(t, root.ID, got.ID)

		_, err = cr.GetByID(ctx, 999999)
		require.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("find_candidates", func(t *testing.T) {
		got, err := cr.FindCandidates(ctx, strPtr("member@example.com"), strPtr("111"))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, root.ID, got[0].ID, "ordered by created_at ascending")

		got, err = cr.FindCandidates(ctx, strPtr("nobody@example.com"), nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("find_cluster_root_first", func(t *testing.T) {
		got, err := cr.FindCluster(ctx, root.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, root.ID, got[0].ID)
		assert.Equal(t, member.ID, got[1].ID)
	})

	t.Run("reparent_and_demote", func(t *testing.T) {
		newRoot, err := cr.Create(ctx, model.CreateContactParams{
			Email:      strPtr("older@example.com"),
			Phone:      strPtr("222"),
			Precedence: model.LinkPrecedencePrimary,
		})
		require.NoError(t, err)

		require.NoError(t, cr.Reparent(ctx, root.ID, newRoot.ID))
		require.NoError(t, cr.Demote(ctx, root.ID, newRoot.ID))

		cluster, err := cr.FindCluster(ctx, newRoot.ID)
		require.NoError(t, err)
		require.Len(t, cluster, 3)
		for _, c := range cluster[1:] {
			require.NotNil(t, c.LinkedID)
			assert.Equal(t, newRoot.ID, *c.LinkedID)
		}

		// Reparent with no matching rows is a no-op.
		require.NoError(t, cr.Reparent(ctx, 999999, newRoot.ID))

		require.ErrorIs(t, cr.Demote(ctx, 999999, newRoot.ID), model.ErrNotFound)
	})
}

func TestIdentityService_MergeThroughTransaction(t *testing.T) {
	ctx := context.Background()
	conn, err := repo.NewConnection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	cr := repo.NewContactRepository(conn)
	svc := service.NewIdentity(cr, testutil.MakeNoopLogger())

	first, err := svc.Identify(ctx, model.IdentifyParams{Email: strPtr("george@hillvalley.edu"), Phone: strPtr("919191")})
	require.NoError(t, err)
	second, err := svc.Identify(ctx, model.IdentifyParams{Email: strPtr("biffsucks@hillvalley.edu"), Phone: strPtr("717171")})
	require.NoError(t, err)
	require.NotEqual(t, first.PrimaryID, second.PrimaryID)

	merged, err := svc.Identify(ctx, model.IdentifyParams{Email: strPtr("george@hillvalley.edu"), Phone: strPtr("717171")})
	require.NoError(t, err)

	assert.Equal(t, first.PrimaryID, merged.PrimaryID)
	assert.Equal(t, []string{"george@hillvalley.edu", "biffsucks@hillvalley.edu"}, merged.Emails)
	assert.Equal(t, []string{"919191", "717171"}, merged.Phones)
	assert.Equal(t, []int64{second.PrimaryID}, merged.SecondaryIDs)

	demoted, err := cr.GetByID(ctx, second.PrimaryID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkPrecedenceSecondary, demoted.Precedence)
	require.NotNil(t, demoted.LinkedID)
	assert.Equal(t, first.PrimaryID, *demoted.LinkedID)

	// Replaying the merged observation is idempotent.
	again, err := svc.Identify(ctx, model.IdentifyParams{Email: strPtr("george@hillvalley.edu"), Phone: strPtr("717171")})
	require.NoError(t, err)
	assert.Equal(t, merged, again)
}

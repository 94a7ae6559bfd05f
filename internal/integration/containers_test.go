//go:build integration

// Package integration exercises the adapters against real backing services
// in containers. Run with: go test -tags integration ./internal/integration/...
package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	outcomeredis "github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/outcome/redis"
	patternpg "github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/pattern/postgres"
	qdrantcli "github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/vector/qdrant"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

const patternsDDL = `
CREATE TABLE patterns (
	id            text PRIMARY KEY,
	parent_id     text,
	name          text NOT NULL,
	kind          text NOT NULL,
	domain        text,
	language      text,
	keywords      text[] NOT NULL DEFAULT '{}',
	quality_score double precision NOT NULL DEFAULT 0,
	success_rate  double precision NOT NULL DEFAULT 0,
	usage_count   bigint NOT NULL DEFAULT 0,
	attributes    jsonb,
	updated_at    timestamptz
)`

func startContainer(t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	return c
}

func endpoint(t *testing.T, c testcontainers.Container, port string) string {
	t.Helper()
	ctx := context.Background()
	host, err := c.Host(ctx)
	require.NoError(t, err)
	p, err := c.MappedPort(ctx, port)
	require.NoError(t, err)
	return host + ":" + p.Port()
}

func Test_PatternStore_Postgres(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pg := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "intelligence"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(90 * time.Second),
	})
	dsn := "postgres://postgres:postgres@" + endpoint(t, pg, "5432") + "/intelligence?sslmode=disable"

	var pool *pgxpool.Pool
	require.Eventually(t, func() bool {
		p, err := patternpg.NewPool(ctx, dsn)
		if err != nil {
			return false
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return false
		}
		pool = p
		return true
	}, 30*time.Second, time.Second)
	t.Cleanup(pool.Close)

	_, err := pool.Exec(ctx, patternsDDL)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO patterns
		(id, name, kind, domain, language, keywords, quality_score, success_rate, usage_count)
		VALUES
		('pat-1', 'consumer group', 'pattern', 'messaging', 'go', '{kafka,consumer}', 0.9, 0.8, 40),
		('pat-2', 'retry backoff', 'pattern', 'messaging', 'go', '{retry,backoff}', 0.7, 0.9, 10),
		('mdl-1', 'invoice', 'model', 'billing', 'go', '{}', 0.5, 0.5, 0)`)
	require.NoError(t, err)

	store := patternpg.New(pool)

	patterns, err := store.Lookup(ctx, domain.PatternFilters{Kind: "pattern", Keywords: []string{"kafka"}})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "pat-1", patterns[0].ID)
	assert.Equal(t, []string{"kafka", "consumer"}, patterns[0].Keywords)

	// Quality-descending order.
	all, err := store.Lookup(ctx, domain.PatternFilters{Kind: "pattern"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "pat-1", all[0].ID)

	byID, err := store.Lookup(ctx, domain.PatternFilters{ID: "mdl-1"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "invoice", byID[0].Name)

	catalog, err := store.Introspect(ctx, "public")
	require.NoError(t, err)
	require.Len(t, catalog.Tables, 1)
	assert.Equal(t, "patterns", catalog.Tables[0].Name)
	assert.NotEmpty(t, catalog.Tables[0].Columns)
}

func Test_OutcomeStore_Redis(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rd := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	})

	store := outcomeredis.New(endpoint(t, rd, "6379"), time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	require.Eventually(t, func() bool { return store.Ping(ctx) == nil }, 30*time.Second, time.Second)

	first, err := store.MarkTerminal(ctx, "evt-1", "completed")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkTerminal(ctx, "evt-1", "failed")
	require.NoError(t, err)
	assert.False(t, again, "replayed event_id must not claim the terminal marker")

	other, err := store.MarkTerminal(ctx, "evt-2", "completed")
	require.NoError(t, err)
	assert.True(t, other)
}

func Test_VectorStore_Qdrant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	qd := startContainer(t, testcontainers.ContainerRequest{
		Image:        "qdrant/qdrant:v1.12.4",
		ExposedPorts: []string{"6333/tcp"},
		WaitingFor:   wait.ForHTTP("/collections").WithPort("6333/tcp").WithStartupTimeout(90 * time.Second),
	})

	store := qdrantcli.New("http://"+endpoint(t, qd, "6333"), "", "intelligence-it", 10*time.Second)
	require.NoError(t, store.EnsureCollection(ctx, 4))
	// Second call must be a no-op.
	require.NoError(t, store.EnsureCollection(ctx, 4))

	points := []domain.VectorPoint{
		{ID: "doc-1:0", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"kind": "document", "document_id": "doc-1"}},
		{ID: "doc-1:1", Vector: []float32{0, 1, 0, 0}, Payload: map[string]any{"kind": "document", "document_id": "doc-1"}},
		{ID: "pat-1", Vector: []float32{0.9, 0.1, 0, 0}, Payload: map[string]any{"kind": "pattern"}},
	}
	require.NoError(t, store.Upsert(ctx, points))
	// Re-upserting the same IDs must not duplicate.
	require.NoError(t, store.Upsert(ctx, points))

	hits, err := store.Search(ctx, []float32{1, 0, 0, 0}, map[string]any{"kind": "document"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-1:0", hits[0].ID, "original point key survives the round trip")

	patternHits, err := store.Search(ctx, []float32{1, 0, 0, 0}, map[string]any{"kind": "pattern"}, 10)
	require.NoError(t, err)
	require.Len(t, patternHits, 1)
	assert.Equal(t, "pat-1", patternHits[0].ID)
}

func Test_Redpanda_Up(t *testing.T) {
	t.Parallel()

	rp := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redpandadata/redpanda:v24.2.7",
		Cmd:          []string{"redpanda", "start", "--mode", "dev-container", "--smp", "1"},
		ExposedPorts: []string{"9644/tcp"},
		WaitingFor:   wait.ForHTTP("/v1/status/ready").WithPort("9644/tcp").WithStartupTimeout(120 * time.Second),
	})

	cli := &http.Client{Timeout: 5 * time.Second}
	resp, err := cli.Get("http://" + endpoint(t, rp, "9644") + "/v1/status/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

//go:build integration

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const integrationDatabase = "txndoctor_integration"

func setupMongoContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := tcmongo.Run(ctx,
		"mongo:7",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	return uri
}

func seed(t *testing.T, uri, collection string, docs ...any) {
	t.Helper()

	ctx := context.Background()

	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	defer func() { require.NoError(t, client.Disconnect(ctx)) }()

	coll := client.Database(integrationDatabase).Collection(collection)
	for _, doc := range docs {
		_, err := coll.InsertOne(ctx, doc)
		require.NoError(t, err)
	}
}

func runInspectCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func TestIntegration_InspectQueue(t *testing.T) {
	uri := setupMongoContainer(t)

	// t-1 asserts alice is missing, but alice exists: a failing
	// precondition. t-2 was pruned from the log and only survives as a
	// queue token.
	seed(t, uri, "accounts",
		bson.D{
			{Key: "_id", Value: "acct-1"},
			{Key: "balance", Value: 100},
			{Key: "txn-queue", Value: bson.A{"t-1_aaaa", "t-2_bbbb"}},
		},
		bson.D{{Key: "_id", Value: "alice"}},
	)
	seed(t, uri, "txns",
		bson.D{
			{Key: "_id", Value: "t-1"},
			{Key: "s", Value: 5},
			{Key: "o", Value: bson.A{
				bson.D{
					{Key: "c", Value: "accounts"},
					{Key: "d", Value: "alice"},
					{Key: "a", Value: "d-"},
				},
			}},
			{Key: "n", Value: "aaaa"},
		},
	)

	out, err := runInspectCmd(t,
		"inspect", "accounts", "acct-1",
		"--uri", uri, "--db", integrationDatabase)
	require.NoError(t, err)

	assert.Contains(t, out, "Inspecting queue of accounts/acct-1")
	assert.Contains(t, out, "txn t-1 (aborted, code 5) nonce aaaa")
	assert.Contains(t, out, "[0] accounts/alice assert (doc-missing) FAIL")
	assert.Contains(t, out, "txn t-2 (unavailable)")
	assert.Contains(t, out, "Transactions: 2")
	assert.Contains(t, out, "Failures:     1")
	assert.Contains(t, out, "Errors:       1")
}

func TestIntegration_InspectScanJSON(t *testing.T) {
	uri := setupMongoContainer(t)

	// One aborted record with a failing existence assertion, one applied
	// record the state filter must exclude.
	seed(t, uri, "txns",
		bson.D{
			{Key: "_id", Value: "t-5"},
			{Key: "s", Value: 5},
			{Key: "o", Value: bson.A{
				bson.D{
					{Key: "c", Value: "widgets"},
					{Key: "d", Value: "w9"},
					{Key: "a", Value: "d+"},
				},
			}},
		},
		bson.D{
			{Key: "_id", Value: "t-6"},
			{Key: "s", Value: 6},
			{Key: "o", Value: bson.A{
				bson.D{
					{Key: "c", Value: "widgets"},
					{Key: "d", Value: "w9"},
					{Key: "a", Value: "d-"},
				},
			}},
		},
	)

	out, err := runInspectCmd(t,
		"inspect", "--uri", uri, "--db", integrationDatabase,
		"--state", "5", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status  string        `json:"status"`
		Data    InspectResult `json:"data"`
		TraceID string        `json:"trace_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.TraceID)
	assert.Equal(t, "scan", resp.Data.Mode)
	assert.Equal(t, "aborted", resp.Data.State)

	require.Len(t, resp.Data.Reports, 1)
	report := resp.Data.Reports[0]
	assert.Equal(t, "t-5", report.ID)
	require.Len(t, report.Ops, 1)
	assert.Equal(t, "fail", report.Ops[0].Result)
	assert.Equal(t, "doc-exists", report.Ops[0].Assert)

	assert.Equal(t, 1, resp.Data.Stats.Transactions)
	assert.Equal(t, 1, resp.Data.Stats.Failures)
}

func TestIntegration_InspectOwnerMissing(t *testing.T) {
	uri := setupMongoContainer(t)

	_, err := runInspectCmd(t,
		"inspect", "accounts", "ghost",
		"--uri", uri, "--db", integrationDatabase)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "owner document not found")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

package txn

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// mustRaw marshals a document for decode tests.
func mustRaw(t *testing.T, doc any) bson.Raw {
	t.Helper()

	b, err := bson.Marshal(doc)
	require.NoError(t, err)

	return bson.Raw(b)
}

func txnID(t *testing.T) primitive.ObjectID {
	t.Helper()

	oid, err := primitive.ObjectIDFromHex("68af1c22d41c8f33a09a7d10")
	require.NoError(t, err)

	return oid
}

func TestDecodeTransaction_FullRecord(t *testing.T) {
	raw := mustRaw(t, bson.D{
		{Key: "_id", Value: txnID(t)},
		{Key: "s", Value: int32(5)},
		{Key: "o", Value: bson.A{
			bson.D{
				{Key: "c", Value: "widgets"},
				{Key: "d", Value: "w1"},
				{Key: "a", Value: "d-"},
				{Key: "i", Value: bson.D{{Key: "name", Value: "widget"}}},
			},
			bson.D{
				{Key: "c", Value: "models"},
				{Key: "d", Value: "m1"},
				{Key: "a", Value: bson.D{{Key: "life", Value: "alive"}}},
				{Key: "u", Value: bson.D{{Key: "$inc", Value: bson.D{{Key: "refcount", Value: 1}}}}},
			},
			bson.D{
				{Key: "c", Value: "widgets"},
				{Key: "d", Value: "w2"},
				{Key: "a", Value: "d+"},
				{Key: "r", Value: true},
			},
			bson.D{
				{Key: "c", Value: "models"},
				{Key: "d", Value: "m1"},
			},
		}},
		{Key: "n", Value: "5bf2"},
	})

	txn, err := DecodeTransaction(raw)
	require.NoError(t, err)

	assert.Equal(t, StateAborted, txn.State)
	assert.Equal(t, "68af1c22d41c8f33a09a7d10", txn.DisplayID())
	assert.Equal(t, "5bf2", txn.Nonce)
	assert.Equal(t, raw, txn.Raw)
	require.Len(t, txn.Ops, 4)

	op := txn.Ops[0]
	assert.Equal(t, "widgets", op.Collection)
	assert.Equal(t, "w1", FormatDocID(op.DocID))
	assert.IsType(t, AssertMissing{}, op.Assertion)
	assert.Equal(t, "insert", op.Kind())
	require.NotNil(t, op.Insert)

	op = txn.Ops[1]
	assert.IsType(t, AssertQuery{}, op.Assertion)
	assert.Equal(t, "update", op.Kind())
	query := op.Assertion.(AssertQuery)
	require.Len(t, query.Fragment, 1)
	assert.Equal(t, "life", query.Fragment[0].Key)
	assert.Equal(t, "alive", query.Fragment[0].Value)

	op = txn.Ops[2]
	assert.IsType(t, AssertExists{}, op.Assertion)
	assert.Equal(t, "remove", op.Kind())

	op = txn.Ops[3]
	assert.IsType(t, AssertNone{}, op.Assertion)
	assert.Equal(t, "assert", op.Kind())
}

func TestDecodeTransaction_MissingState(t *testing.T) {
	raw := mustRaw(t, bson.D{
		{Key: "_id", Value: "t1"},
		{Key: "o", Value: bson.A{bson.D{{Key: "c", Value: "widgets"}, {Key: "d", Value: "w1"}}}},
	})

	_, err := DecodeTransaction(raw)
	require.Error(t, err)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "s", de.Field)
	assert.Equal(t, "t1", de.ID, "decode errors keep a best-effort id for logging")
}

func TestDecodeTransaction_StateWrongType(t *testing.T) {
	raw := mustRaw(t, bson.D{
		{Key: "_id", Value: "t1"},
		{Key: "s", Value: "aborted"},
		{Key: "o", Value: bson.A{bson.D{{Key: "c", Value: "widgets"}, {Key: "d", Value: "w1"}}}},
	})

	_, err := DecodeTransaction(raw)
	assert.True(t, IsDecodeError(err))
}

func TestDecodeTransaction_UnknownStateIsNotDecodeError(t *testing.T) {
	raw := mustRaw(t, bson.D{
		{Key: "_id", Value: "t1"},
		{Key: "s", Value: int32(9)},
		{Key: "o", Value: bson.A{bson.D{{Key: "c", Value: "widgets"}, {Key: "d", Value: "w1"}}}},
	})

	_, err := DecodeTransaction(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownState))
	assert.False(t, IsDecodeError(err), "unknown state is fatal, not a skippable shape problem")
}

func TestDecodeTransaction_OpsShapeErrors(t *testing.T) {
	validOp := bson.D{{Key: "c", Value: "widgets"}, {Key: "d", Value: "w1"}}

	tests := []struct {
		name  string
		doc   bson.D
		field string
	}{
		{
			name: "missing ops",
			doc: bson.D{
				{Key: "_id", Value: "t1"},
				{Key: "s", Value: int32(5)},
			},
			field: "o",
		},
		{
			name: "ops not an array",
			doc: bson.D{
				{Key: "_id", Value: "t1"},
				{Key: "s", Value: int32(5)},
				{Key: "o", Value: "nope"},
			},
			field: "o",
		},
		{
			name: "empty ops",
			doc: bson.D{
				{Key: "_id", Value: "t1"},
				{Key: "s", Value: int32(5)},
				{Key: "o", Value: bson.A{}},
			},
			field: "o",
		},
		{
			name: "op not a document",
			doc: bson.D{
				{Key: "_id", Value: "t1"},
				{Key: "s", Value: int32(5)},
				{Key: "o", Value: bson.A{"nope"}},
			},
			field: "o[0]",
		},
		{
			name: "op missing collection",
			doc: bson.D{
				{Key: "_id", Value: "t1"},
				{Key: "s", Value: int32(5)},
				{Key: "o", Value: bson.A{validOp, bson.D{{Key: "d", Value: "w1"}}}},
			},
			field: "o[1].c",
		},
		{
			name: "op missing doc id",
			doc: bson.D{
				{Key: "_id", Value: "t1"},
				{Key: "s", Value: int32(5)},
				{Key: "o", Value: bson.A{bson.D{{Key: "c", Value: "widgets"}}}},
			},
			field: "o[0].d",
		},
		{
			name: "insert and update together",
			doc: bson.D{
				{Key: "_id", Value: "t1"},
				{Key: "s", Value: int32(5)},
				{Key: "o", Value: bson.A{bson.D{
					{Key: "c", Value: "widgets"},
					{Key: "d", Value: "w1"},
					{Key: "i", Value: bson.D{}},
					{Key: "u", Value: bson.D{}},
				}}},
			},
			field: "o[0].i",
		},
		{
			name: "unknown assertion sentinel",
			doc: bson.D{
				{Key: "_id", Value: "t1"},
				{Key: "s", Value: int32(5)},
				{Key: "o", Value: bson.A{bson.D{
					{Key: "c", Value: "widgets"},
					{Key: "d", Value: "w1"},
					{Key: "a", Value: "d?"},
				}}},
			},
			field: "o[0].a",
		},
		{
			name: "assertion with unusable type",
			doc: bson.D{
				{Key: "_id", Value: "t1"},
				{Key: "s", Value: int32(5)},
				{Key: "o", Value: bson.A{bson.D{
					{Key: "c", Value: "widgets"},
					{Key: "d", Value: "w1"},
					{Key: "a", Value: int32(1)},
				}}},
			},
			field: "o[0].a",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeTransaction(mustRaw(t, tc.doc))
			require.Error(t, err)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.field, de.Field)
			assert.Equal(t, "t1", de.ID)
		})
	}
}

func TestDecodeQueue(t *testing.T) {
	owner := mustRaw(t, bson.D{
		{Key: "_id", Value: "m1"},
		{Key: "life", Value: "alive"},
		{Key: QueueField, Value: bson.A{
			"68af1c22d41c8f33a09a7d10_5bf2",
			"68af1c22d41c8f33a09a7d11_90aa",
			"plain-token",
		}},
	})

	entries, err := DecodeQueue(owner)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "68af1c22d41c8f33a09a7d10", entries[0].ID)
	assert.Equal(t, "5bf2", entries[0].Nonce)
	assert.Equal(t, "68af1c22d41c8f33a09a7d11", entries[1].ID)
	assert.Equal(t, "plain-token", entries[2].ID)
	assert.Equal(t, "", entries[2].Nonce)
}

func TestDecodeQueue_NoQueueField(t *testing.T) {
	owner := mustRaw(t, bson.D{{Key: "_id", Value: "m1"}})

	entries, err := DecodeQueue(owner)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries, "an owner without the field has nothing pending")
}

func TestDecodeQueue_ShapeErrors(t *testing.T) {
	notArray := mustRaw(t, bson.D{
		{Key: "_id", Value: "m1"},
		{Key: QueueField, Value: "nope"},
	})

	_, err := DecodeQueue(notArray)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, QueueField, de.Field)

	badEntry := mustRaw(t, bson.D{
		{Key: "_id", Value: "m1"},
		{Key: QueueField, Value: bson.A{"good_1", int32(2)}},
	})

	_, err = DecodeQueue(badEntry)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "txn-queue[1]", de.Field)
	assert.Equal(t, "m1", de.ID)
}

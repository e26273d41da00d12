package crud

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/codetrek/doclife/pkg/model"
)

func TestValidateCommands_AllowsKnownOperators(t *testing.T) {
	cmds := bson.M{
		"$set":         bson.M{"name": "x"},
		"$unset":       bson.M{"obsolete": ""},
		"$inc":         bson.M{"count": 1},
		"$mul":         bson.M{"price": 1.1},
		"$currentDate": bson.M{"lastSeen": true},
		"$setOnInsert": bson.M{"origin": "import"},
		"$push":        bson.M{"tags": "new"},
		"$pull":        bson.M{"tags": "old"},
		"$addToSet":    bson.M{"labels": "a"},
	}
	assert.NoError(t, validateCommands(cmds))
}

func TestValidateCommands_RejectsUnknownOperator(t *testing.T) {
	for _, op := range []string{"$rename", "$max", "name", ""} {
		err := validateCommands(bson.M{op: bson.M{"a": 1}})
		require.Error(t, err, op)
		assert.True(t, model.IsBadRequest(err))
		assert.Contains(t, err.Error(), "unknown update operator")
	}
}

func TestValidateCommands_ProtectsAuditFields(t *testing.T) {
	for _, op := range allowedOperators {
		for _, field := range model.StandardFields {
			err := validateCommands(bson.M{op: bson.M{field: "tamper"}})
			require.Error(t, err, "%s.%s", op, field)
			assert.True(t, model.IsBadRequest(err))
			assert.Contains(t, err.Error(), field)
		}
	}
}

func TestValidateCommands_PlainMapSubdocument(t *testing.T) {
	// Callers decoding JSON hand in map[string]interface{} sub-documents.
	err := validateCommands(bson.M{"$set": map[string]interface{}{"updatedAt": time.Now()}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updatedAt")

	assert.NoError(t, validateCommands(bson.M{"$set": map[string]interface{}{"name": "ok"}}))
}

func TestValidateCommands_OrderedSubdocument(t *testing.T) {
	// Driver decoding yields bson.D sub-documents; protection must see them.
	err := validateCommands(bson.M{"$set": bson.D{{Key: model.FieldCreatorID, Value: "tamper"}}})
	require.Error(t, err)
	assert.True(t, model.IsBadRequest(err))
	assert.Contains(t, err.Error(), model.FieldCreatorID)

	assert.NoError(t, validateCommands(bson.M{"$set": bson.D{{Key: "name", Value: "ok"}}}))
}

func TestValidateCommands_NonDocumentOperandSkipped(t *testing.T) {
	// Field protection applies to sub-documents only; scalar operands are the
	// casting collaborator's concern.
	assert.NoError(t, validateCommands(bson.M{"$set": "not-a-document"}))
}

func TestEnsureSetStamps(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	ctx := NewContext(context.Background(), "u-42", now, slog.Default())

	t.Run("creates $set when absent", func(t *testing.T) {
		cmds := bson.M{"$inc": bson.M{"count": 1}}
		ensureSetStamps(cmds, ctx)

		set := cmds["$set"].(bson.M)
		assert.Equal(t, "u-42", set[model.FieldUpdaterID])
		assert.Equal(t, now, set[model.FieldUpdatedAt])
	})

	t.Run("extends existing $set", func(t *testing.T) {
		cmds := bson.M{"$set": bson.M{"name": "kept"}}
		ensureSetStamps(cmds, ctx)

		set := cmds["$set"].(bson.M)
		assert.Equal(t, "kept", set["name"])
		assert.Equal(t, "u-42", set[model.FieldUpdaterID])
	})

	t.Run("keeps fields of an ordered $set", func(t *testing.T) {
		cmds := bson.M{"$set": bson.D{{Key: "name", Value: "kept"}}}
		ensureSetStamps(cmds, ctx)

		set := cmds["$set"].(bson.M)
		assert.Equal(t, "kept", set["name"])
		assert.Equal(t, "u-42", set[model.FieldUpdaterID])
		assert.Equal(t, now, set[model.FieldUpdatedAt])
	})
}

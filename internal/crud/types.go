package crud

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/codetrek/doclife/pkg/model"
)

// FindQuery bundles the parameters of the read operations. Skip and Limit are
// applied only when non-nil; a nil Sort falls back to the engine's default.
type FindQuery struct {
	Filter     bson.M
	Projection bson.M
	Sort       bson.D
	Skip       *int64
	Limit      *int64
	States     []model.State
	TextSearch bool
}

// InsertManyOptions tunes the batch insert result shape.
type InsertManyOptions struct {
	// IDOnly returns only the assigned identifiers instead of full documents.
	IDOnly bool
}

// QueryTranslator converts a client filter fragment plus ad-hoc field matchers
// and ACL constraint rows into a store-native filter. Implemented outside the
// engine; used by PatchBulk.
type QueryTranslator interface {
	Translate(ctx context.Context, query string, fields map[string]interface{}, acls []bson.M) (bson.M, error)
}

// BodyCaster validates and casts raw bodies in place against the collection
// schema (e.g. numeric strings to numbers). Implemented outside the engine.
type BodyCaster interface {
	CastDocument(doc bson.M) error
	CastUpdateCommands(commands bson.M, editableFields []string) error
}

// IDCaster converts a client-supplied identifier string into the store's
// native id type.
type IDCaster func(raw string) (interface{}, error)

// Reserved keys of a PatchBulk entry filter. Everything else in the filter map
// is treated as an ad-hoc field matcher and handed to the QueryTranslator.
const (
	BulkFilterID     = "_id"
	BulkFilterQuery  = "_q"
	BulkFilterStates = "_st"
)

// PatchBulkEntry is one independent filter/update pair of a bulk patch.
type PatchBulkEntry struct {
	Filter map[string]interface{}
	Update bson.M
}

// ChangeStateEntry is one independent filter/target pair of a bulk state
// transition.
type ChangeStateEntry struct {
	Query   bson.M
	StateTo model.State
}

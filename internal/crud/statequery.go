package crud

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/codetrek/doclife/pkg/model"
)

// stateFilter maps a requested set of lifecycle states to a Mongo filter
// fragment. No states means the implicit default visibility: PUBLIC only.
// Duplicates are dropped; order is irrelevant. State names are assumed
// pre-validated by the caller.
func stateFilter(states []model.State) bson.M {
	if len(states) == 0 {
		return bson.M{model.FieldState: model.StatePublic}
	}

	seen := make(map[model.State]struct{}, len(states))
	unique := make([]model.State, 0, len(states))
	for _, s := range states {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		unique = append(unique, s)
	}

	if len(unique) == 1 {
		return bson.M{model.FieldState: unique[0]}
	}
	return bson.M{model.FieldState: bson.M{"$in": unique}}
}

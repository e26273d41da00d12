package crud

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/codetrek/doclife/pkg/model"
)

// The full set of update operators the engine accepts. Anything else at the
// top level of a command document is a hard validation error.
var allowedOperators = []string{
	"$set",
	"$unset",
	"$inc",
	"$mul",
	"$currentDate",
	"$setOnInsert",
	"$push",
	"$pull",
	"$addToSet",
}

func isAllowedOperator(op string) bool {
	for _, allowed := range allowedOperators {
		if allowed == op {
			return true
		}
	}
	return false
}

// validateCommands checks an update-command document before it reaches the
// store: only the nine allowed operators may appear at the top level, and no
// operator sub-document may address one of the four audit fields. Every
// mutation path calls this first. Nested array-element sub-operators are the
// concern of the casting collaborator, not of this check.
func validateCommands(commands bson.M) error {
	for op, value := range commands {
		if !isAllowedOperator(op) {
			return model.NewBadRequest("unknown update operator %q", op)
		}
		sub, ok := toBsonM(value)
		if !ok {
			continue
		}
		for field := range sub {
			if model.IsStandardField(field) {
				return model.NewBadRequest("field %q cannot be specified", field)
			}
		}
	}
	return nil
}

// ensureSetStamps forces the audit trail onto a validated command document:
// every mutation records who touched the document and when, exactly once.
func ensureSetStamps(commands bson.M, ctx Context) {
	set, ok := toBsonM(commands["$set"])
	if !ok {
		set = bson.M{}
	}
	set[model.FieldUpdaterID] = ctx.UserID
	set[model.FieldUpdatedAt] = ctx.Now
	commands["$set"] = set
}

// toBsonM normalizes the sub-document shapes a caller may hand in, including
// the ordered bson.D form the driver's decoders produce.
func toBsonM(value interface{}) (bson.M, bool) {
	switch v := value.(type) {
	case bson.M:
		return v, true
	case map[string]interface{}:
		return bson.M(v), true
	case bson.D:
		out := make(bson.M, len(v))
		for _, e := range v {
			out[e.Key] = e.Value
		}
		return out, true
	default:
		return nil, false
	}
}

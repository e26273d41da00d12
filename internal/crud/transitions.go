package crud

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/codetrek/doclife/pkg/model"
)

// ChangeStateByID moves one document to stateTo. The read applies no state
// filter: transitions must find documents in any lifecycle state. Legality is
// checked against the transition table; a document without __STATE__ may move
// anywhere (compatibility with un-migrated data). The write re-includes the
// observed state in its filter, so a concurrent transition makes this one
// modify zero documents instead of silently overwriting it.
func (e *Engine) ChangeStateByID(ctx Context, id interface{}, stateTo model.State, query bson.M) (int64, error) {
	ctx.Log.Debug("changeStateById requested", "collection", e.coll.Name(), "id", id, "stateTo", stateTo)

	if !stateTo.IsValid() {
		return 0, model.NewBadRequest("unknown state %q", string(stateTo))
	}

	readParts := bson.A{bson.M{model.FieldID: id}}
	if len(query) > 0 {
		readParts = append(readParts, query)
	}

	var current bson.M
	err := e.coll.FindOne(ctx, bson.M{"$and": readParts}).Decode(&current)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			ctx.Log.Debug("changeStateById executed", "collection", e.coll.Name(), "id", id, "found", false)
			return 0, model.ErrNotFound
		}
		ctx.Log.Debug("changeStateById failed", "collection", e.coll.Name(), "id", id, "error", err)
		return 0, err
	}

	observed, hasState := current[model.FieldState]
	if hasState {
		from, err := model.ParseState(fmt.Sprint(observed))
		if err != nil {
			return 0, err
		}
		if !from.CanTransitionTo(stateTo) {
			return 0, model.ErrInvalidTransition(from, stateTo)
		}
	}

	modified, err := e.applyStateTransition(ctx, id, query, observed, hasState, stateTo)
	if err != nil {
		ctx.Log.Debug("changeStateById failed", "collection", e.coll.Name(), "id", id, "error", err)
		return 0, err
	}

	ctx.Log.Debug("changeStateById executed", "collection", e.coll.Name(), "id", id, "stateTo", stateTo, "modified", modified)
	if modified > 0 {
		e.notify(ctx, "changeState", id, string(stateTo), modified)
	}
	return modified, nil
}

// applyStateTransition performs the guarded write of ChangeStateByID. The
// filter pins the state observed at read time (or its absence); a lost race
// shows up as zero modified documents.
func (e *Engine) applyStateTransition(ctx Context, id interface{}, query bson.M, observed interface{}, hasState bool, to model.State) (int64, error) {
	parts := bson.A{bson.M{model.FieldID: id}}
	if len(query) > 0 {
		parts = append(parts, query)
	}
	if hasState {
		parts = append(parts, bson.M{model.FieldState: observed})
	} else {
		parts = append(parts, bson.M{model.FieldState: bson.M{"$exists": false}})
	}

	update := bson.M{"$set": bson.M{
		model.FieldState:     to,
		model.FieldUpdaterID: ctx.UserID,
		model.FieldUpdatedAt: ctx.Now,
	}}

	res, err := e.coll.UpdateOne(ctx, bson.M{"$and": parts}, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// ChangeStateMany moves every document matching each entry's query to the
// entry's target state, as one unordered bulk write. The per-entry filter
// restricts matches to the states allowed to transition into the target, so
// the legality filter itself doubles as the concurrency guard.
func (e *Engine) ChangeStateMany(ctx Context, entries []ChangeStateEntry) (int64, error) {
	ctx.Log.Debug("changeStateMany requested", "collection", e.coll.Name(), "count", len(entries))

	if len(entries) == 0 {
		return 0, model.NewBadRequest("at least one element required")
	}

	bw := &bulkWriter{}
	for _, entry := range entries {
		sources, err := model.SourcesFor(entry.StateTo)
		if err != nil {
			return 0, err
		}

		parts := bson.A{bson.M{model.FieldState: bson.M{"$in": sources}}}
		if len(entry.Query) > 0 {
			parts = append(parts, entry.Query)
		}

		update := bson.M{"$set": bson.M{
			model.FieldState:     entry.StateTo,
			model.FieldUpdaterID: ctx.UserID,
			model.FieldUpdatedAt: ctx.Now,
		}}

		bw.add(mongo.NewUpdateManyModel().
			SetFilter(bson.M{"$and": parts}).
			SetUpdate(update))
	}

	res, err := bw.flush(ctx, e.coll, "changeStateMany")
	if err != nil {
		ctx.Log.Debug("changeStateMany failed", "collection", e.coll.Name(), "error", err)
		return 0, err
	}

	ctx.Log.Debug("changeStateMany executed", "collection", e.coll.Name(), "modified", res.ModifiedCount)
	e.notify(ctx, "changeState", nil, "", res.ModifiedCount)
	return res.ModifiedCount, nil
}

// Package crud implements the state-aware document CRUD engine. It translates
// find/insert/update/delete operations and lifecycle state transitions into
// MongoDB queries, guarding the audit fields and the lifecycle state machine
// on every write path.
package crud

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codetrek/doclife/internal/events"
	"github.com/codetrek/doclife/pkg/model"
)

// Options carries the free-form construction-time settings of an Engine.
type Options struct {
	// AllowDiskUse lets sort/aggregation operations spill to disk when they
	// exceed the server memory limit.
	AllowDiskUse bool
	// Events receives a change notification after each successful mutation.
	// Nil disables publishing.
	Events events.Publisher
}

// Engine owns one collection handle and exposes the complete read/write
// surface for it. It is stateless per call; concurrent use is safe and
// consistency is pushed to the store via atomic single-document operations
// and filter-based optimistic checks.
type Engine struct {
	coll          *mongo.Collection
	stateOnInsert model.State
	defaultSort   bson.D
	allowDiskUse  bool
	events        events.Publisher
}

// NewEngine builds an engine for one collection. stateOnInsert is the
// lifecycle state assigned to inserted documents that carry none; defaultSort
// applies when a read specifies no sort (nil means store-native order).
func NewEngine(coll *mongo.Collection, stateOnInsert model.State, defaultSort bson.D, opts Options) (*Engine, error) {
	if coll == nil {
		return nil, errors.New("collection cannot be nil")
	}
	if !stateOnInsert.IsValid() {
		return nil, model.NewBadRequest("unknown state %q", string(stateOnInsert))
	}
	return &Engine{
		coll:          coll,
		stateOnInsert: stateOnInsert,
		defaultSort:   defaultSort,
		allowDiskUse:  opts.AllowDiskUse,
		events:        opts.Events,
	}, nil
}

// composeFilter ANDs the caller query with the lifecycle state filter. The
// state filter is always present; an empty query collapses to it.
func composeFilter(query bson.M, states []model.State) bson.M {
	sf := stateFilter(states)
	if len(query) == 0 {
		return sf
	}
	return bson.M{"$and": bson.A{query, sf}}
}

// idFilter builds the filter of an id-addressed operation.
func idFilter(id interface{}, query bson.M, states []model.State) bson.M {
	parts := bson.A{}
	if len(query) > 0 {
		parts = append(parts, query)
	}
	parts = append(parts, bson.M{model.FieldID: id}, stateFilter(states))
	return bson.M{"$and": parts}
}

// withTextScore injects the relevance-score pseudo-field unless the caller
// already asked for a field named score.
func withTextScore(projection bson.M) bson.M {
	out := bson.M{}
	for k, v := range projection {
		out[k] = v
	}
	if _, ok := out["score"]; !ok {
		out["score"] = bson.M{"$meta": "textScore"}
	}
	return out
}

var textScoreSort = bson.D{{Key: "score", Value: bson.M{"$meta": "textScore"}}}

// resolveSort picks the sort order: relevance score for text searches without
// an explicit sort, else the engine default, else the caller's (possibly nil,
// meaning store-native order).
func (e *Engine) resolveSort(q FindQuery) bson.D {
	if q.Sort != nil {
		return q.Sort
	}
	if q.TextSearch {
		return textScoreSort
	}
	return e.defaultSort
}

// FindAll returns a lazy, forward-only cursor over the documents matching the
// query in the requested lifecycle states.
func (e *Engine) FindAll(ctx Context, q FindQuery) (*mongo.Cursor, error) {
	filter := composeFilter(q.Filter, q.States)
	ctx.Log.Debug("findAll requested", "collection", e.coll.Name(), "filter", filter, "skip", q.Skip, "limit", q.Limit)

	opts := options.Find()
	projection := q.Projection
	if q.TextSearch {
		projection = withTextScore(projection)
	}
	if len(projection) > 0 {
		opts.SetProjection(projection)
	}
	if sort := e.resolveSort(q); sort != nil {
		opts.SetSort(sort)
	}
	if q.Skip != nil {
		opts.SetSkip(*q.Skip)
	}
	if q.Limit != nil {
		opts.SetLimit(*q.Limit)
	}
	if e.allowDiskUse {
		opts.SetAllowDiskUse(true)
	}

	cursor, err := e.coll.Find(ctx, filter, opts)
	if err != nil {
		ctx.Log.Debug("findAll failed", "collection", e.coll.Name(), "error", err)
		return nil, err
	}
	ctx.Log.Debug("findAll executed", "collection", e.coll.Name(), "filter", filter)
	return cursor, nil
}

// FindByID returns the document with the given id matching the query and the
// requested states, or model.ErrNotFound.
func (e *Engine) FindByID(ctx Context, id interface{}, q FindQuery) (bson.M, error) {
	filter := idFilter(id, q.Filter, q.States)
	ctx.Log.Debug("findById requested", "collection", e.coll.Name(), "id", id, "filter", filter)

	opts := options.FindOne()
	if len(q.Projection) > 0 {
		opts.SetProjection(q.Projection)
	}

	var doc bson.M
	err := e.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			ctx.Log.Debug("findById executed", "collection", e.coll.Name(), "id", id, "found", false)
			return nil, model.ErrNotFound
		}
		ctx.Log.Debug("findById failed", "collection", e.coll.Name(), "id", id, "error", err)
		return nil, err
	}
	ctx.Log.Debug("findById executed", "collection", e.coll.Name(), "id", id, "found", true)
	return doc, nil
}

// Aggregate runs the same query surface as FindAll through a three-stage
// pipeline: match on text clause and state filter, project, then match the
// remaining caller query. The second match runs after the projection so that
// query operators may reference projected or computed fields.
func (e *Engine) Aggregate(ctx Context, q FindQuery) (*mongo.Cursor, error) {
	textClause, residual := extractTextClause(q.Filter)

	first := bson.M{}
	if textClause != nil {
		first["$text"] = textClause
	}
	first[model.FieldState] = stateFilter(q.States)[model.FieldState]

	pipeline := []bson.M{{"$match": first}}

	projection := q.Projection
	if q.TextSearch {
		projection = withTextScore(projection)
	}
	if len(projection) > 0 {
		pipeline = append(pipeline, bson.M{"$project": projection})
	}
	if len(residual) > 0 {
		pipeline = append(pipeline, bson.M{"$match": residual})
	}
	if sort := e.resolveSort(q); sort != nil {
		pipeline = append(pipeline, bson.M{"$sort": sort})
	}
	if q.Skip != nil {
		pipeline = append(pipeline, bson.M{"$skip": int64(*q.Skip)})
	}
	if q.Limit != nil {
		pipeline = append(pipeline, bson.M{"$limit": int64(*q.Limit)})
	}

	ctx.Log.Debug("aggregate requested", "collection", e.coll.Name(), "stages", len(pipeline))

	opts := options.Aggregate()
	if e.allowDiskUse {
		opts.SetAllowDiskUse(true)
	}

	cursor, err := e.coll.Aggregate(ctx, pipeline, opts)
	if err != nil {
		ctx.Log.Debug("aggregate failed", "collection", e.coll.Name(), "error", err)
		return nil, err
	}
	ctx.Log.Debug("aggregate executed", "collection", e.coll.Name(), "stages", len(pipeline))
	return cursor, nil
}

// rejectStandardFields fails when a write payload carries any engine-managed
// audit field.
func rejectStandardFields(doc bson.M) error {
	for _, f := range model.StandardFields {
		if _, ok := doc[f]; ok {
			return model.NewBadRequest("standard field %q cannot be specified", f)
		}
	}
	return nil
}

// resolveInsertState picks the lifecycle state a new document starts in: a
// valid caller-supplied __STATE__ wins, else the engine default.
func (e *Engine) resolveInsertState(doc bson.M) (model.State, error) {
	if raw, ok := doc[model.FieldState]; ok {
		return model.ParseState(fmt.Sprint(raw))
	}
	return e.stateOnInsert, nil
}

// stampNew copies the payload and stamps the audit fields and lifecycle state
// onto it. A caller-supplied __STATE__ is honored at creation time only and
// must be a valid state.
func (e *Engine) stampNew(ctx Context, doc bson.M) (bson.M, error) {
	if err := rejectStandardFields(doc); err != nil {
		return nil, err
	}

	state, err := e.resolveInsertState(doc)
	if err != nil {
		return nil, err
	}

	out := make(bson.M, len(doc)+5)
	for k, v := range doc {
		out[k] = v
	}
	out[model.FieldCreatorID] = ctx.UserID
	out[model.FieldCreatedAt] = ctx.Now
	out[model.FieldUpdaterID] = ctx.UserID
	out[model.FieldUpdatedAt] = ctx.Now
	out[model.FieldState] = state
	return out, nil
}

// InsertOne stamps and stores a single document, returning it with the
// assigned id.
func (e *Engine) InsertOne(ctx Context, doc bson.M) (bson.M, error) {
	ctx.Log.Debug("insertOne requested", "collection", e.coll.Name())

	stamped, err := e.stampNew(ctx, doc)
	if err != nil {
		return nil, err
	}

	res, err := e.coll.InsertOne(ctx, stamped)
	if err != nil {
		ctx.Log.Debug("insertOne failed", "collection", e.coll.Name(), "error", err)
		return nil, err
	}
	stamped[model.FieldID] = res.InsertedID

	ctx.Log.Debug("insertOne executed", "collection", e.coll.Name(), "id", res.InsertedID)
	e.notify(ctx, "insert", res.InsertedID, string(stamped[model.FieldState].(model.State)), 1)
	return stamped, nil
}

// InsertOneWithID stores a single document under a caller-chosen id. The
// payload must not carry an _id of its own.
func (e *Engine) InsertOneWithID(ctx Context, id interface{}, doc bson.M) (bson.M, error) {
	ctx.Log.Debug("insertOneWithId requested", "collection", e.coll.Name(), "id", id)

	if _, ok := doc[model.FieldID]; ok {
		return nil, model.NewBadRequest("field %q cannot be specified", model.FieldID)
	}

	stamped, err := e.stampNew(ctx, doc)
	if err != nil {
		return nil, err
	}
	stamped[model.FieldID] = id

	if _, err := e.coll.InsertOne(ctx, stamped); err != nil {
		ctx.Log.Debug("insertOneWithId failed", "collection", e.coll.Name(), "id", id, "error", err)
		return nil, err
	}

	ctx.Log.Debug("insertOneWithId executed", "collection", e.coll.Name(), "id", id)
	e.notify(ctx, "insert", id, string(stamped[model.FieldState].(model.State)), 1)
	return stamped, nil
}

// InsertMany casts, stamps and stores a batch of documents in one insert.
// With IDOnly set, only the assigned identifiers are returned.
func (e *Engine) InsertMany(ctx Context, docs []bson.M, caster BodyCaster, opts InsertManyOptions) ([]bson.M, error) {
	ctx.Log.Debug("insertMany requested", "collection", e.coll.Name(), "count", len(docs))

	if len(docs) == 0 {
		return nil, model.NewBadRequest("at least one element required")
	}

	stamped := make([]bson.M, 0, len(docs))
	payload := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		if caster != nil {
			if err := caster.CastDocument(doc); err != nil {
				return nil, err
			}
		}
		s, err := e.stampNew(ctx, doc)
		if err != nil {
			return nil, err
		}
		stamped = append(stamped, s)
		payload = append(payload, s)
	}

	res, err := e.coll.InsertMany(ctx, payload)
	if err != nil {
		ctx.Log.Debug("insertMany failed", "collection", e.coll.Name(), "error", err)
		return nil, err
	}

	ctx.Log.Debug("insertMany executed", "collection", e.coll.Name(), "count", len(res.InsertedIDs))
	e.notify(ctx, "insert", nil, "", int64(len(res.InsertedIDs)))

	if opts.IDOnly {
		out := make([]bson.M, 0, len(res.InsertedIDs))
		for _, id := range res.InsertedIDs {
			out = append(out, bson.M{model.FieldID: id})
		}
		return out, nil
	}
	for i, id := range res.InsertedIDs {
		stamped[i][model.FieldID] = id
	}
	return stamped, nil
}

// DeleteByID atomically removes the matching document and returns its
// pre-deletion snapshot, or model.ErrNotFound.
func (e *Engine) DeleteByID(ctx Context, id interface{}, query bson.M, states []model.State) (bson.M, error) {
	filter := idFilter(id, query, states)
	ctx.Log.Debug("deleteById requested", "collection", e.coll.Name(), "id", id, "filter", filter)

	var doc bson.M
	err := e.coll.FindOneAndDelete(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			ctx.Log.Debug("deleteById executed", "collection", e.coll.Name(), "id", id, "deleted", false)
			return nil, model.ErrNotFound
		}
		ctx.Log.Debug("deleteById failed", "collection", e.coll.Name(), "id", id, "error", err)
		return nil, err
	}

	ctx.Log.Debug("deleteById executed", "collection", e.coll.Name(), "id", id, "deleted", true)
	e.notify(ctx, "delete", id, "", 1)
	return doc, nil
}

// DeleteAll removes every document matching the query in the requested
// states and returns the count. Zero matches is a valid result.
func (e *Engine) DeleteAll(ctx Context, query bson.M, states []model.State) (int64, error) {
	filter := composeFilter(query, states)
	ctx.Log.Debug("deleteAll requested", "collection", e.coll.Name(), "filter", filter)

	res, err := e.coll.DeleteMany(ctx, filter)
	if err != nil {
		ctx.Log.Debug("deleteAll failed", "collection", e.coll.Name(), "error", err)
		return 0, err
	}

	ctx.Log.Debug("deleteAll executed", "collection", e.coll.Name(), "count", res.DeletedCount)
	e.notify(ctx, "delete", nil, "", res.DeletedCount)
	return res.DeletedCount, nil
}

// PatchByID validates the commands, stamps the audit trail and atomically
// updates the matching document, returning the post-update document (in the
// requested projection) or model.ErrNotFound.
func (e *Engine) PatchByID(ctx Context, id interface{}, commands bson.M, query bson.M, projection bson.M, states []model.State) (bson.M, error) {
	ctx.Log.Debug("patchById requested", "collection", e.coll.Name(), "id", id)

	if err := validateCommands(commands); err != nil {
		return nil, err
	}
	ensureSetStamps(commands, ctx)

	filter := idFilter(id, query, states)
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if len(projection) > 0 {
		opts.SetProjection(projection)
	}

	var doc bson.M
	err := e.coll.FindOneAndUpdate(ctx, filter, commands, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			ctx.Log.Debug("patchById executed", "collection", e.coll.Name(), "id", id, "matched", false)
			return nil, model.ErrNotFound
		}
		ctx.Log.Debug("patchById failed", "collection", e.coll.Name(), "id", id, "error", err)
		return nil, err
	}

	ctx.Log.Debug("patchById executed", "collection", e.coll.Name(), "id", id, "matched", true)
	e.notify(ctx, "update", id, "", 1)
	return doc, nil
}

// PatchMany applies the commands to every matching document and returns the
// number actually modified (matched-but-unchanged documents do not count).
func (e *Engine) PatchMany(ctx Context, commands bson.M, query bson.M, states []model.State) (int64, error) {
	ctx.Log.Debug("patchMany requested", "collection", e.coll.Name())

	if err := validateCommands(commands); err != nil {
		return 0, err
	}
	ensureSetStamps(commands, ctx)

	filter := composeFilter(query, states)
	res, err := e.coll.UpdateMany(ctx, filter, commands)
	if err != nil {
		ctx.Log.Debug("patchMany failed", "collection", e.coll.Name(), "error", err)
		return 0, err
	}

	ctx.Log.Debug("patchMany executed", "collection", e.coll.Name(), "modified", res.ModifiedCount)
	e.notify(ctx, "update", nil, "", res.ModifiedCount)
	return res.ModifiedCount, nil
}

// UpsertOne updates the matching document or inserts a new one. creatorId,
// createdAt and __STATE__ are stamped through $setOnInsert so they only take
// effect on insert. Returns the post-operation document.
func (e *Engine) UpsertOne(ctx Context, commands bson.M, query bson.M, projection bson.M, states []model.State) (bson.M, error) {
	ctx.Log.Debug("upsertOne requested", "collection", e.coll.Name())

	if err := validateCommands(commands); err != nil {
		return nil, err
	}
	ensureSetStamps(commands, ctx)

	setOnInsert, ok := toBsonM(commands["$setOnInsert"])
	if !ok {
		setOnInsert = bson.M{}
	}
	setOnInsert[model.FieldCreatorID] = ctx.UserID
	setOnInsert[model.FieldCreatedAt] = ctx.Now
	setOnInsert[model.FieldState] = e.stateOnInsert
	commands["$setOnInsert"] = setOnInsert

	filter := composeFilter(query, states)
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	if len(projection) > 0 {
		opts.SetProjection(projection)
	}

	var doc bson.M
	if err := e.coll.FindOneAndUpdate(ctx, filter, commands, opts).Decode(&doc); err != nil {
		ctx.Log.Debug("upsertOne failed", "collection", e.coll.Name(), "error", err)
		return nil, err
	}

	ctx.Log.Debug("upsertOne executed", "collection", e.coll.Name(), "id", doc[model.FieldID])
	e.notify(ctx, "upsert", doc[model.FieldID], "", 1)
	return doc, nil
}

// UpsertMany converts each cast document into a per-document upsert: matched
// by _id when the document carries one, else by the entire document shape.
// Payload fields land through $set with the update stamps; creatorId,
// createdAt and __STATE__ go through $setOnInsert so a matched document keeps
// its creation trail and lifecycle state. All entries run as one unordered
// bulk write; returns the number of newly inserted documents.
func (e *Engine) UpsertMany(ctx Context, docs []bson.M, caster BodyCaster) (int64, error) {
	ctx.Log.Debug("upsertMany requested", "collection", e.coll.Name(), "count", len(docs))

	if len(docs) == 0 {
		return 0, model.NewBadRequest("at least one element required")
	}

	bw := &bulkWriter{}
	for _, doc := range docs {
		if caster != nil {
			if err := caster.CastDocument(doc); err != nil {
				return 0, err
			}
		}
		if err := rejectStandardFields(doc); err != nil {
			return 0, err
		}
		state, err := e.resolveInsertState(doc)
		if err != nil {
			return 0, err
		}

		set := bson.M{
			model.FieldUpdaterID: ctx.UserID,
			model.FieldUpdatedAt: ctx.Now,
		}
		for k, v := range doc {
			// _id is immutable and the state never changes outside an explicit
			// transition.
			if k == model.FieldID || k == model.FieldState {
				continue
			}
			set[k] = v
		}
		setOnInsert := bson.M{
			model.FieldCreatorID: ctx.UserID,
			model.FieldCreatedAt: ctx.Now,
			model.FieldState:     state,
		}

		var filter bson.M
		if id, ok := doc[model.FieldID]; ok {
			filter = bson.M{model.FieldID: id}
		} else {
			filter = doc
		}
		bw.add(mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": set, "$setOnInsert": setOnInsert}).
			SetUpsert(true))
	}

	res, err := bw.flush(ctx, e.coll, "upsertMany")
	if err != nil {
		ctx.Log.Debug("upsertMany failed", "collection", e.coll.Name(), "error", err)
		return 0, err
	}

	ctx.Log.Debug("upsertMany executed", "collection", e.coll.Name(), "upserted", res.UpsertedCount, "modified", res.ModifiedCount)
	e.notify(ctx, "upsert", nil, "", res.UpsertedCount+res.ModifiedCount)
	return res.UpsertedCount, nil
}

// PatchBulk applies independent filter/update pairs as one unordered bulk
// write. Each entry filter is split into its reserved keys (_id, _q, _st) and
// the remaining ad-hoc field matchers, which are resolved together with the
// ACL rows by the query translator. Returns the total modified count.
func (e *Engine) PatchBulk(ctx Context, entries []PatchBulkEntry, translator QueryTranslator, caster BodyCaster, castID IDCaster, editableFields []string, acls []bson.M) (int64, error) {
	ctx.Log.Debug("patchBulk requested", "collection", e.coll.Name(), "count", len(entries))

	if len(entries) == 0 {
		return 0, model.NewBadRequest("at least one element required")
	}

	bw := &bulkWriter{}
	for _, entry := range entries {
		rawID, _ := entry.Filter[BulkFilterID].(string)
		rawQuery, _ := entry.Filter[BulkFilterQuery].(string)
		rawStates, _ := entry.Filter[BulkFilterStates].(string)
		if rawStates == "" {
			return 0, model.NewBadRequest("state list required")
		}

		states, err := parseStateList(rawStates)
		if err != nil {
			return 0, err
		}

		fields := make(map[string]interface{})
		for k, v := range entry.Filter {
			switch k {
			case BulkFilterID, BulkFilterQuery, BulkFilterStates:
				continue
			}
			fields[k] = v
		}

		translated, err := translator.Translate(ctx, rawQuery, fields, acls)
		if err != nil {
			return 0, err
		}

		if err := validateCommands(entry.Update); err != nil {
			return 0, err
		}
		if caster != nil {
			if err := caster.CastUpdateCommands(entry.Update, editableFields); err != nil {
				return 0, err
			}
		}
		ensureSetStamps(entry.Update, ctx)

		parts := bson.A{stateFilter(states)}
		if len(translated) > 0 {
			parts = append(parts, translated)
		}
		if rawID != "" {
			id, err := castID(rawID)
			if err != nil {
				return 0, err
			}
			parts = append(parts, bson.M{model.FieldID: id})
		}

		bw.add(mongo.NewUpdateOneModel().
			SetFilter(bson.M{"$and": parts}).
			SetUpdate(entry.Update))
	}

	res, err := bw.flush(ctx, e.coll, "patchBulk")
	if err != nil {
		ctx.Log.Debug("patchBulk failed", "collection", e.coll.Name(), "error", err)
		return 0, err
	}

	ctx.Log.Debug("patchBulk executed", "collection", e.coll.Name(), "modified", res.ModifiedCount)
	e.notify(ctx, "update", nil, "", res.ModifiedCount)
	return res.ModifiedCount, nil
}

func parseStateList(raw string) ([]model.State, error) {
	parts := strings.Split(raw, ",")
	states := make([]model.State, 0, len(parts))
	for _, p := range parts {
		s, err := model.ParseState(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, nil
}

func (e *Engine) notify(ctx Context, op string, id interface{}, state string, count int64) {
	if e.events == nil {
		return
	}
	change := events.Change{
		Op:         op,
		Collection: e.coll.Name(),
		ID:         id,
		State:      state,
		Count:      count,
		Actor:      ctx.UserID,
		Timestamp:  ctx.Now,
	}
	if err := e.events.Publish(ctx, change); err != nil {
		ctx.Log.Warn("change event publish failed", "collection", e.coll.Name(), "op", op, "error", err)
	}
}

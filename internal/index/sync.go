package index

import (
	"context"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const primaryKeyIndex = "_id_"

// existingIndex is the subset of a live index relevant for the structural
// comparison: key shape (in order), uniqueness and TTL.
type existingIndex struct {
	Name               string `bson:"name"`
	Key                bson.D `bson:"key"`
	Unique             bool   `bson:"unique"`
	ExpireAfterSeconds *int32 `bson:"expireAfterSeconds"`
}

// Sync reconciles the declared descriptors against the collection's live
// indexes. Existing indexes survive when they are the primary-key index,
// their name starts with preservePrefix, or a descriptor with the same name
// declares the same structure; everything else is dropped. Missing desired
// indexes are then created. Returns the names of indexes actually created;
// running Sync twice with the same input creates and drops nothing on the
// second run.
func Sync(ctx context.Context, coll *mongo.Collection, desired []Descriptor, preservePrefix string) ([]string, error) {
	for _, d := range desired {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}

	// A listing failure (e.g. the collection does not exist yet) means there
	// is nothing to preserve or drop.
	existing := listExisting(ctx, coll)

	byName := make(map[string]Descriptor, len(desired))
	for _, d := range desired {
		byName[d.Name] = d
	}

	retained := make(map[string]bool)
	var toDrop []string
	for _, ex := range existing {
		switch {
		case ex.Name == primaryKeyIndex:
		case preservePrefix != "" && strings.HasPrefix(ex.Name, preservePrefix):
			// Also retained by name: a descriptor declared under a preserved
			// name must not collide with the untouched live index.
			retained[ex.Name] = true
		case structurallyEqual(ex, byName):
			retained[ex.Name] = true
		default:
			toDrop = append(toDrop, ex.Name)
		}
	}

	if err := dropAll(ctx, coll, toDrop); err != nil {
		return nil, err
	}

	var created []string
	for _, d := range desired {
		if d.Name == primaryKeyIndex || retained[d.Name] {
			continue
		}
		m, err := d.indexModel()
		if err != nil {
			return nil, err
		}
		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			return nil, err
		}
		created = append(created, d.Name)
	}
	return created, nil
}

func listExisting(ctx context.Context, coll *mongo.Collection) []existingIndex {
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil
	}
	defer cursor.Close(ctx)

	var out []existingIndex
	for cursor.Next(ctx) {
		var ex existingIndex
		if err := cursor.Decode(&ex); err != nil {
			continue
		}
		out = append(out, ex)
	}
	return out
}

// dropAll drops the marked indexes as parallel, independent operations.
func dropAll(ctx context.Context, coll *mongo.Collection, names []string) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := coll.Indexes().DropOne(ctx, name); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return firstErr
}

// structurallyEqual checks whether the live index matches the descriptor of
// the same name: same keys in the same order, same uniqueness, same TTL.
func structurallyEqual(ex existingIndex, desired map[string]Descriptor) bool {
	d, ok := desired[ex.Name]
	if !ok {
		return false
	}
	if d.Unique != ex.Unique {
		return false
	}
	if (d.ExpireAfterSeconds == nil) != (ex.ExpireAfterSeconds == nil) {
		return false
	}
	if d.ExpireAfterSeconds != nil && *d.ExpireAfterSeconds != *ex.ExpireAfterSeconds {
		return false
	}

	// The server rewrites text index keys into _fts/_ftsx markers, so the
	// declared fields never match the live key shape; name, uniqueness and
	// TTL are all that can be compared.
	if d.Type == TypeText {
		return true
	}

	want := d.keys()
	if len(want) != len(ex.Key) {
		return false
	}
	for i, e := range want {
		if ex.Key[i].Key != e.Key {
			return false
		}
		if normalizeKeyValue(ex.Key[i].Value) != normalizeKeyValue(e.Value) {
			return false
		}
	}
	return true
}

// normalizeKeyValue folds the numeric types the server may report a key
// direction as into one comparable form.
func normalizeKeyValue(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return int32(n)
	case int32:
		return n
	case int64:
		return int32(n)
	case float64:
		return int32(n)
	default:
		return v
	}
}

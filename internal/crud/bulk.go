package crud

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codetrek/doclife/pkg/model"
)

// bulkWriter accumulates independent write models and executes them as one
// unordered batch. Entries are queued in caller order but the store is free to
// apply them in any order; one entry's failure does not block the others.
type bulkWriter struct {
	models []mongo.WriteModel
}

func (b *bulkWriter) add(m mongo.WriteModel) {
	b.models = append(b.models, m)
}

// flush runs the accumulated batch once. A batch the store reports as not-ok
// fails loudly with an operation-named error; the driver surfaces entry-level
// and write-concern failures alike through the returned BulkWriteException,
// which stays inspectable behind the wrap.
func (b *bulkWriter) flush(ctx context.Context, coll *mongo.Collection, opName string) (*mongo.BulkWriteResult, error) {
	if len(b.models) == 0 {
		return nil, model.NewBadRequest("at least one element required")
	}

	res, err := coll.BulkWrite(ctx, b.models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", opName, err)
	}
	return res, nil
}

package crud

import "go.mongodb.org/mongo-driver/bson"

// extractTextClause walks the query tree, removes the first $text clause
// found at any depth and returns its value together with the residual query.
// The clause is hoisted into the first pipeline stage of Aggregate; the
// residual query runs after the projection stage. The input is not mutated.
func extractTextClause(query bson.M) (interface{}, bson.M) {
	pruned, clause := pruneText(query)
	residual, _ := pruned.(bson.M)
	return clause, residual
}

func pruneText(node interface{}) (interface{}, interface{}) {
	switch n := node.(type) {
	case bson.M:
		return pruneTextMap(n)
	case map[string]interface{}:
		return pruneTextMap(bson.M(n))
	case bson.A:
		return pruneTextSlice(n)
	case []interface{}:
		return pruneTextSlice(n)
	default:
		return node, nil
	}
}

func pruneTextMap(m bson.M) (interface{}, interface{}) {
	var clause interface{}
	out := make(bson.M, len(m))
	for k, v := range m {
		if k == "$text" && clause == nil {
			clause = v
			continue
		}
		pruned, found := pruneText(v)
		if found != nil && clause == nil {
			clause = found
		}
		// An operator array emptied by the pruning ($and of a lone $text)
		// would be rejected by the server; drop the key instead.
		if a, ok := pruned.(bson.A); ok && len(a) == 0 {
			continue
		}
		out[k] = pruned
	}
	return out, clause
}

func pruneTextSlice(s []interface{}) (interface{}, interface{}) {
	var clause interface{}
	out := make(bson.A, 0, len(s))
	for _, v := range s {
		pruned, found := pruneText(v)
		if found != nil && clause == nil {
			clause = found
		}
		// A clause pruned down to an empty sub-document matches everything;
		// drop it from the surrounding array.
		if m, ok := pruned.(bson.M); ok && len(m) == 0 {
			continue
		}
		out = append(out, pruned)
	}
	if len(out) == 0 {
		return bson.A{}, clause
	}
	return out, clause
}

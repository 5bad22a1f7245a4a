package data

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
)

// fromBSON converts a decoded BSON value into the docstore value set.
func fromBSON(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bson.M:
		return fieldsFromBSON(map[string]any(t))
	case map[string]any:
		return fieldsFromBSON(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		return sliceFromBSON([]any(t))
	case []any:
		return sliceFromBSON(t)
	case bson.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case int32:
		return int64(t)
	case int64, float64, string, bool:
		return t
	case bson.ObjectID:
		return t.Hex()
	case bson.Null, bson.Undefined:
		return nil
	}
	// decimals, binaries and regexes are never written by this service
	return fmt.Sprint(v)
}

func fieldsFromBSON(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromBSON(v)
	}
	return out
}

func sliceFromBSON(a []any) []any {
	out := make([]any, len(a))
	for i, v := range a {
		out[i] = fromBSON(v)
	}
	return out
}

// documentFromBSON splits the _id out of a raw document.
func documentFromBSON(raw bson.M) docstore.Document {
	id, _ := fromBSON(raw["_id"]).(string)
	delete(raw, "_id")
	return docstore.Document{ID: id, Fields: fieldsFromBSON(map[string]any(raw))}
}

// buildUpdate turns normalised fields into an update document: plain values go
// to $set (with server timestamps resolved to now) and AppendOp values become
// $push with $each, so appends happen atomically on the server.
func buildUpdate(fields map[string]any, now time.Time) (bson.D, error) {
	set := bson.D{}
	push := bson.D{}
	for k, v := range fields {
		if k == "_id" {
			return nil, fmt.Errorf("docstore: field %q is reserved", k)
		}
		if op, ok := v.(docstore.AppendOp); ok {
			each := make(bson.A, 0, len(op.Values))
			for _, x := range op.Values {
				each = append(each, docstore.ResolveValue(x, now))
			}
			push = append(push, bson.E{Key: k, Value: bson.D{{Key: "$each", Value: each}}})
			continue
		}
		set = append(set, bson.E{Key: k, Value: docstore.ResolveValue(v, now)})
	}

	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(push) > 0 {
		update = append(update, bson.E{Key: "$push", Value: push})
	}
	return update, nil
}

var mongoOps = map[docstore.Op]string{
	docstore.Eq:  "$eq",
	docstore.Ne:  "$ne",
	docstore.Lt:  "$lt",
	docstore.Lte: "$lte",
	docstore.Gt:  "$gt",
	docstore.Gte: "$gte",
}

// buildFilter translates the query predicates. Every filtered field must
// exist, as must the order field; documents lacking it are excluded.
func buildFilter(q docstore.Query) (bson.D, error) {
	clauses := bson.A{}
	for _, f := range q.Where {
		op, ok := mongoOps[f.Op]
		if !ok {
			return nil, fmt.Errorf("%w: unknown operator %q", docstore.ErrInvalidQuery, f.Op)
		}
		value, err := docstore.NormalizeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", docstore.ErrInvalidQuery, err)
		}
		clauses = append(clauses, bson.D{{Key: f.Field, Value: bson.D{
			{Key: "$exists", Value: true},
			{Key: op, Value: value},
		}}})
	}
	if q.OrderBy != "" {
		clauses = append(clauses, bson.D{{Key: q.OrderBy, Value: bson.D{{Key: "$exists", Value: true}}}})
	}
	if len(clauses) == 0 {
		return bson.D{}, nil
	}
	return bson.D{{Key: "$and", Value: clauses}}, nil
}

// buildSort orders by the query field and then _id ascending.
func buildSort(q docstore.Query) bson.D {
	sort := bson.D{}
	if q.OrderBy != "" {
		dir := 1
		if q.Direction == docstore.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: q.OrderBy, Value: dir})
	}
	return append(sort, bson.E{Key: "_id", Value: 1})
}

package rpc

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
)

// Document values travel as google.protobuf.Value. Null, bool, string, double,
// list and map use the native kinds. Kinds protobuf's JSON model lacks are
// wrapped in a struct carrying a typeKey marker; field names starting with
// "$" are rejected by the store, so the marker never collides with data.
const typeKey = "$type"

// Marker types.
const (
	TypeInt             = "int"
	TypeTimestamp       = "timestamp"
	TypeServerTimestamp = "serverTimestamp"
	TypeAppend          = "append"
)

func marker(kind string, fields map[string]*structpb.Value) *structpb.Value {
	fields[typeKey] = structpb.NewStringValue(kind)
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

// EncodeValue converts a document value to its wire form. v is normalised
// first, so any type the store accepts may be passed.
func EncodeValue(v any) (*structpb.Value, error) {
	n, err := docstore.NormalizeValue(v)
	if err != nil {
		return nil, err
	}
	return encodeNormalized(n)
}

func encodeNormalized(v any) (*structpb.Value, error) {
	if docstore.IsServerTimestamp(v) {
		return marker(TypeServerTimestamp, map[string]*structpb.Value{}), nil
	}
	switch t := v.(type) {
	case nil:
		return structpb.NewNullValue(), nil
	case bool:
		return structpb.NewBoolValue(t), nil
	case int64:
		return marker(TypeInt, map[string]*structpb.Value{
			"value": structpb.NewStringValue(strconv.FormatInt(t, 10)),
		}), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("rpc: cannot encode %v", t)
		}
		return structpb.NewNumberValue(t), nil
	case string:
		return structpb.NewStringValue(t), nil
	case time.Time:
		ts := timestamppb.New(t)
		if err := ts.CheckValid(); err != nil {
			return nil, fmt.Errorf("rpc: %w", err)
		}
		return marker(TypeTimestamp, map[string]*structpb.Value{
			"seconds": structpb.NewStringValue(strconv.FormatInt(ts.GetSeconds(), 10)),
			"nanos":   structpb.NewNumberValue(float64(ts.GetNanos())),
		}), nil
	case docstore.AppendOp:
		list, err := encodeList(t.Values)
		if err != nil {
			return nil, err
		}
		return marker(TypeAppend, map[string]*structpb.Value{"values": structpb.NewListValue(list)}), nil
	case []any:
		list, err := encodeList(t)
		if err != nil {
			return nil, err
		}
		return structpb.NewListValue(list), nil
	case map[string]any:
		s, err := encodeStruct(t)
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(s), nil
	}
	return nil, fmt.Errorf("rpc: cannot encode %T", v)
}

func encodeList(vs []any) (*structpb.ListValue, error) {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(vs))}
	for _, x := range vs {
		e, err := encodeNormalized(x)
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, e)
	}
	return out, nil
}

func encodeStruct(m map[string]any) (*structpb.Struct, error) {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(m))}
	for k, x := range m {
		e, err := encodeNormalized(x)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out.Fields[k] = e
	}
	return out, nil
}

// EncodeFields converts a field map to its wire form.
func EncodeFields(fields map[string]any) (*structpb.Struct, error) {
	n, err := docstore.NormalizeFields(fields)
	if err != nil {
		return nil, err
	}
	return encodeStruct(n)
}

// DecodeValue converts a wire value back to a document value, sentinels
// included.
func DecodeValue(v *structpb.Value) (any, error) {
	return decodeValue(v, true)
}

func decodeValue(v *structpb.Value, allowSentinels bool) (any, error) {
	switch k := v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_BoolValue:
		return k.BoolValue, nil
	case *structpb.Value_NumberValue:
		return k.NumberValue, nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_ListValue:
		return decodeList(k.ListValue, allowSentinels)
	case *structpb.Value_StructValue:
		if kind, ok := k.StructValue.GetFields()[typeKey]; ok {
			return decodeMarker(kind.GetStringValue(), k.StructValue.GetFields(), allowSentinels)
		}
		return decodeStruct(k.StructValue, allowSentinels)
	}
	return nil, fmt.Errorf("rpc: unknown value kind %T", v.GetKind())
}

func decodeMarker(kind string, fields map[string]*structpb.Value, allowSentinels bool) (any, error) {
	switch kind {
	case TypeInt:
		n, err := strconv.ParseInt(fields["value"].GetStringValue(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rpc: bad int value: %w", err)
		}
		return n, nil
	case TypeTimestamp:
		secs, err := strconv.ParseInt(fields["seconds"].GetStringValue(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rpc: bad timestamp: %w", err)
		}
		ts := &timestamppb.Timestamp{Seconds: secs, Nanos: int32(fields["nanos"].GetNumberValue())}
		if err := ts.CheckValid(); err != nil {
			return nil, fmt.Errorf("rpc: %w", err)
		}
		return ts.AsTime(), nil
	case TypeServerTimestamp, TypeAppend:
		if !allowSentinels {
			return nil, fmt.Errorf("rpc: sentinel %q not allowed here", kind)
		}
		if kind == TypeServerTimestamp {
			return docstore.ServerTimestamp(), nil
		}
		vals, err := decodeList(fields["values"].GetListValue(), true)
		if err != nil {
			return nil, err
		}
		return docstore.AppendOp{Values: vals}, nil
	}
	return nil, fmt.Errorf("rpc: unknown value type %q", kind)
}

func decodeList(l *structpb.ListValue, allowSentinels bool) ([]any, error) {
	out := make([]any, 0, len(l.GetValues()))
	for _, x := range l.GetValues() {
		d, err := decodeValue(x, allowSentinels)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func decodeStruct(s *structpb.Struct, allowSentinels bool) (map[string]any, error) {
	out := make(map[string]any, len(s.GetFields()))
	for k, x := range s.GetFields() {
		d, err := decodeValue(x, allowSentinels)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = d
	}
	return out, nil
}

// DecodeFields converts wire fields of a write, sentinels included.
func DecodeFields(s *structpb.Struct) (map[string]any, error) {
	return decodeStruct(s, true)
}

// EncodeDocument converts a stored document to {id, fields}.
func EncodeDocument(doc docstore.Document) (*structpb.Struct, error) {
	fields, err := encodeStruct(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":     structpb.NewStringValue(doc.ID),
		"fields": structpb.NewStructValue(fields),
	}}, nil
}

// EncodeDocuments converts a result set to a list of documents.
func EncodeDocuments(docs []docstore.Document) (*structpb.ListValue, error) {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(docs))}
	for _, d := range docs {
		e, err := EncodeDocument(d)
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, structpb.NewStructValue(e))
	}
	return out, nil
}

// DecodeDocument converts a wire document. Stored documents never contain
// sentinels.
func DecodeDocument(s *structpb.Struct) (docstore.Document, error) {
	id := s.GetFields()["id"].GetStringValue()
	fields, err := decodeStruct(s.GetFields()["fields"].GetStructValue(), false)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("document %s: %w", id, err)
	}
	return docstore.Document{ID: id, Fields: fields}, nil
}

// DecodeDocuments converts a wire result set.
func DecodeDocuments(l *structpb.ListValue) ([]docstore.Document, error) {
	out := make([]docstore.Document, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		doc, err := DecodeDocument(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// EncodeQuery converts a store query to
// {collection, where: [{field, op, value}], orderBy, direction, limit}.
func EncodeQuery(q docstore.Query) (*structpb.Struct, error) {
	where := &structpb.ListValue{}
	for _, f := range q.Where {
		v, err := EncodeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", f.Field, err)
		}
		where.Values = append(where.Values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"field": structpb.NewStringValue(f.Field),
			"op":    structpb.NewStringValue(string(f.Op)),
			"value": v,
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"collection": structpb.NewStringValue(q.Collection),
		"where":      structpb.NewListValue(where),
		"orderBy":    structpb.NewStringValue(q.OrderBy),
		"direction":  structpb.NewStringValue(q.Direction.String()),
		"limit":      structpb.NewNumberValue(float64(q.Limit)),
	}}, nil
}

// DecodeQuery converts and validates a wire query.
func DecodeQuery(s *structpb.Struct) (docstore.Query, error) {
	f := s.GetFields()
	dir, err := docstore.ParseDirection(f["direction"].GetStringValue())
	if err != nil {
		return docstore.Query{}, err
	}
	out := docstore.Query{
		Collection: f["collection"].GetStringValue(),
		OrderBy:    f["orderBy"].GetStringValue(),
		Direction:  dir,
		Limit:      int(f["limit"].GetNumberValue()),
	}
	for _, w := range f["where"].GetListValue().GetValues() {
		wf := w.GetStructValue().GetFields()
		field := wf["field"].GetStringValue()
		v, err := decodeValue(wf["value"], false)
		if err != nil {
			return docstore.Query{}, fmt.Errorf("%w: filter %q: %v", docstore.ErrInvalidQuery, field, err)
		}
		out.Where = append(out.Where, docstore.Filter{Field: field, Op: docstore.Op(wf["op"].GetStringValue()), Value: v})
	}
	return out, out.Validate()
}

package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
)

func TestFieldsSurviveTheWire(t *testing.T) {
	when := time.Date(2025, 3, 1, 9, 30, 0, 123000000, time.UTC)
	fields := map[string]any{
		"title":   "Fractions",
		"count":   3,
		"ratio":   0.5,
		"done":    false,
		"missing": nil,
		"when":    when,
		"tags":    []string{"math", "grade-6"},
		"meta":    map[string]any{"room": "9A", "seats": int64(30)},
		"at":      docstore.ServerTimestamp(),
		"answers": docstore.Append(map[string]any{"answerText": "x", "answeredAt": docstore.ServerTimestamp()}),
	}

	enc, err := EncodeFields(fields)
	require.NoError(t, err)

	raw, err := proto.Marshal(enc)
	require.NoError(t, err)
	back := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(raw, back))

	got, err := DecodeFields(back)
	require.NoError(t, err)

	assert.Equal(t, "Fractions", got["title"])
	assert.Equal(t, int64(3), got["count"])
	assert.Equal(t, 0.5, got["ratio"])
	assert.Equal(t, false, got["done"])
	assert.Nil(t, got["missing"])
	assert.True(t, when.Equal(got["when"].(time.Time)))
	assert.Equal(t, []any{"math", "grade-6"}, got["tags"])
	assert.Equal(t, map[string]any{"room": "9A", "seats": int64(30)}, got["meta"])
	assert.True(t, docstore.IsServerTimestamp(got["at"]))

	op, ok := got["answers"].(docstore.AppendOp)
	require.True(t, ok)
	require.Len(t, op.Values, 1)
	assert.True(t, docstore.IsServerTimestamp(op.Values[0].(map[string]any)["answeredAt"]))
}

func TestLargeIntegersKeepPrecision(t *testing.T) {
	v, err := EncodeValue(int64(1) << 60)
	require.NoError(t, err)
	got, err := DecodeValue(v)
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<60, got)
}

func TestDocumentsRejectSentinels(t *testing.T) {
	at, err := EncodeValue(docstore.ServerTimestamp())
	require.NoError(t, err)
	d := &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":     structpb.NewStringValue("x"),
		"fields": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{"at": at}}),
	}}
	_, err = DecodeDocument(d)
	assert.Error(t, err)

	blob := structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{typeKey: structpb.NewStringValue("blob")}})
	_, err = DecodeValue(blob)
	assert.Error(t, err)

	_, err = EncodeFields(map[string]any{"meta": map[string]int{"$type": 1}})
	assert.Error(t, err)

	_, err = EncodeFields(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestQueryRoundTrip(t *testing.T) {
	q := docstore.Query{
		Collection: "onlineUsers",
		Where:      []docstore.Filter{{Field: "isOnline", Op: docstore.Eq, Value: true}},
		OrderBy:    "lastSeen",
		Direction:  docstore.Desc,
		Limit:      20,
	}
	wq, err := EncodeQuery(q)
	require.NoError(t, err)
	back, err := DecodeQuery(wq)
	require.NoError(t, err)
	assert.Equal(t, q, back)

	filter := wq.Fields["where"].GetListValue().Values[0].GetStructValue()
	filter.Fields["op"] = structpb.NewStringValue("~")
	_, err = DecodeQuery(wq)
	assert.ErrorIs(t, err, docstore.ErrInvalidQuery)

	filter.Fields["op"] = structpb.NewStringValue("==")
	filter.Fields["value"], err = EncodeValue(docstore.ServerTimestamp())
	require.NoError(t, err)
	_, err = DecodeQuery(wq)
	assert.ErrorIs(t, err, docstore.ErrInvalidQuery)
}

func TestMessagesUseWellKnownTypes(t *testing.T) {
	when := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	resp := &IdentityResponse{UserID: "u1", Email: "amy@school.test", Role: "student", EmailVerified: true, Token: "t", ExpiresAt: when}
	w, err := resp.toWire()
	require.NoError(t, err)
	require.IsType(t, &structpb.Struct{}, w)

	raw, err := proto.Marshal(w)
	require.NoError(t, err)
	back := resp.newWire()
	require.NoError(t, proto.Unmarshal(raw, back))
	var got IdentityResponse
	require.NoError(t, got.fromWire(back))
	assert.Equal(t, resp.Identity(), got.Identity())

	add := &AddResponse{ID: "d1"}
	aw, err := add.toWire()
	require.NoError(t, err)
	assert.Equal(t, "d1", aw.(interface{ GetValue() string }).GetValue())

	empty, err := (&Empty{}).toWire()
	require.NoError(t, err)
	assert.Equal(t, "google.protobuf.Empty", string(empty.ProtoReflect().Descriptor().FullName()))
}

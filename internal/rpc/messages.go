package rpc

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
)

// wireMessage is a request or response of the service. On the wire every
// message is a protobuf well-known type; the Go types below are views over
// them.
type wireMessage interface {
	newWire() proto.Message
	toWire() (proto.Message, error)
	fromWire(proto.Message) error
}

// structMessage travels as google.protobuf.Struct.
type structMessage struct{}

func (structMessage) newWire() proto.Message { return &structpb.Struct{} }

// stringMessage travels as google.protobuf.StringValue.
type stringMessage struct{}

func (stringMessage) newWire() proto.Message { return &wrapperspb.StringValue{} }

// emptyMessage travels as google.protobuf.Empty.
type emptyMessage struct{}

func (emptyMessage) newWire() proto.Message         { return &emptypb.Empty{} }
func (emptyMessage) toWire() (proto.Message, error) { return &emptypb.Empty{}, nil }
func (emptyMessage) fromWire(proto.Message) error   { return nil }

// args reads the fields of a Struct message. Missing fields read as zero.
type args map[string]*structpb.Value

func argsOf(m proto.Message) args {
	s, _ := m.(*structpb.Struct)
	return args(s.GetFields())
}

func (a args) str(k string) string { return a[k].GetStringValue() }

func (a args) flag(k string) bool { return a[k].GetBoolValue() }

func (a args) fields(k string) (map[string]any, error) {
	return DecodeFields(a[k].GetStructValue())
}

func (a args) time(k string) (time.Time, error) {
	if a[k] == nil {
		return time.Time{}, nil
	}
	v, err := decodeValue(a[k], false)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("rpc: %s is not a timestamp", k)
	}
	return t, nil
}

func stringStruct(kv ...string) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		s.Fields[kv[i]] = structpb.NewStringValue(kv[i+1])
	}
	return s
}

func stringOf(m proto.Message) string {
	w, _ := m.(*wrapperspb.StringValue)
	return w.GetValue()
}

func writeStruct(collection, id string, fields map[string]any) (proto.Message, error) {
	enc, err := EncodeFields(fields)
	if err != nil {
		return nil, err
	}
	s := stringStruct("collection", collection, "id", id)
	s.Fields["fields"] = structpb.NewStructValue(enc)
	return s, nil
}

// CreateAccountRequest registers a new account.
type CreateAccountRequest struct {
	structMessage
	Email       string
	Password    string
	DisplayName string
}

func (r *CreateAccountRequest) GetEmail() string { return r.Email }

func (r *CreateAccountRequest) toWire() (proto.Message, error) {
	return stringStruct("email", r.Email, "password", r.Password, "displayName", r.DisplayName), nil
}

func (r *CreateAccountRequest) fromWire(m proto.Message) error {
	a := argsOf(m)
	r.Email, r.Password, r.DisplayName = a.str("email"), a.str("password"), a.str("displayName")
	return nil
}

// SignInRequest exchanges credentials for a session token.
type SignInRequest struct {
	structMessage
	Email    string
	Password string
}

func (r *SignInRequest) GetEmail() string { return r.Email }

func (r *SignInRequest) toWire() (proto.Message, error) {
	return stringStruct("email", r.Email, "password", r.Password), nil
}

func (r *SignInRequest) fromWire(m proto.Message) error {
	a := argsOf(m)
	r.Email, r.Password = a.str("email"), a.str("password")
	return nil
}

// SendPasswordResetRequest mails a reset code to the account.
type SendPasswordResetRequest struct {
	stringMessage
	Email string
}

func (r *SendPasswordResetRequest) GetEmail() string { return r.Email }

func (r *SendPasswordResetRequest) toWire() (proto.Message, error) {
	return wrapperspb.String(r.Email), nil
}

func (r *SendPasswordResetRequest) fromWire(m proto.Message) error {
	r.Email = stringOf(m)
	return nil
}

// ResetPasswordRequest sets a new password with a mailed reset code.
type ResetPasswordRequest struct {
	structMessage
	Token       string
	NewPassword string
}

func (r *ResetPasswordRequest) toWire() (proto.Message, error) {
	return stringStruct("token", r.Token, "newPassword", r.NewPassword), nil
}

func (r *ResetPasswordRequest) fromWire(m proto.Message) error {
	a := argsOf(m)
	r.Token, r.NewPassword = a.str("token"), a.str("newPassword")
	return nil
}

// ReauthenticateRequest confirms the password of a signed-in account.
type ReauthenticateRequest struct {
	structMessage
	Token    string
	Password string
}

func (r *ReauthenticateRequest) toWire() (proto.Message, error) {
	return stringStruct("token", r.Token, "password", r.Password), nil
}

func (r *ReauthenticateRequest) fromWire(m proto.Message) error {
	a := argsOf(m)
	r.Token, r.Password = a.str("token"), a.str("password")
	return nil
}

// ChangePasswordRequest replaces the password of a signed-in account after
// confirming the current one.
type ChangePasswordRequest struct {
	structMessage
	Token       string
	Password    string
	NewPassword string
}

func (r *ChangePasswordRequest) toWire() (proto.Message, error) {
	return stringStruct("token", r.Token, "password", r.Password, "newPassword", r.NewPassword), nil
}

func (r *ChangePasswordRequest) fromWire(m proto.Message) error {
	a := argsOf(m)
	r.Token, r.Password, r.NewPassword = a.str("token"), a.str("password"), a.str("newPassword")
	return nil
}

// DeleteAccountRequest removes a signed-in account after confirming its
// password.
type DeleteAccountRequest struct {
	structMessage
	Token    string
	Password string
}

func (r *DeleteAccountRequest) toWire() (proto.Message, error) {
	return stringStruct("token", r.Token, "password", r.Password), nil
}

func (r *DeleteAccountRequest) fromWire(m proto.Message) error {
	a := argsOf(m)
	r.Token, r.Password = a.str("token"), a.str("password")
	return nil
}

// ResumeRequest restores a remembered session.
type ResumeRequest struct {
	stringMessage
	Token string
}

func (r *ResumeRequest) toWire() (proto.Message, error) { return wrapperspb.String(r.Token), nil }

func (r *ResumeRequest) fromWire(m proto.Message) error {
	r.Token = stringOf(m)
	return nil
}

// SendEmailVerificationRequest mails a verification code to the caller.
type SendEmailVerificationRequest struct {
	emptyMessage
}

// VerifyEmailRequest confirms an email address with a mailed code.
type VerifyEmailRequest struct {
	stringMessage
	Token string
}

func (r *VerifyEmailRequest) toWire() (proto.Message, error) { return wrapperspb.String(r.Token), nil }

func (r *VerifyEmailRequest) fromWire(m proto.Message) error {
	r.Token = stringOf(m)
	return nil
}

// SetDisabledRequest enables or disables an account.
type SetDisabledRequest struct {
	structMessage
	UserID   string
	Disabled bool
}

func (r *SetDisabledRequest) toWire() (proto.Message, error) {
	s := stringStruct("userId", r.UserID)
	s.Fields["disabled"] = structpb.NewBoolValue(r.Disabled)
	return s, nil
}

func (r *SetDisabledRequest) fromWire(m proto.Message) error {
	a := argsOf(m)
	r.UserID, r.Disabled = a.str("userId"), a.flag("disabled")
	return nil
}

// IdentityResponse carries a signed-in identity.
type IdentityResponse struct {
	structMessage
	UserID        string
	Email         string
	DisplayName   string
	Role          string
	EmailVerified bool
	Token         string
	ExpiresAt     time.Time
}

// NewIdentityResponse converts an identity for the wire.
func NewIdentityResponse(id identity.Identity) *IdentityResponse {
	return &IdentityResponse{
		UserID:        id.UserID,
		Email:         id.Email,
		DisplayName:   id.DisplayName,
		Role:          id.Role,
		EmailVerified: id.EmailVerified,
		Token:         id.Token,
		ExpiresAt:     id.ExpiresAt,
	}
}

// Identity converts the response.
func (r *IdentityResponse) Identity() identity.Identity {
	return identity.Identity{
		UserID:        r.UserID,
		Email:         r.Email,
		DisplayName:   r.DisplayName,
		Role:          r.Role,
		EmailVerified: r.EmailVerified,
		Token:         r.Token,
		ExpiresAt:     r.ExpiresAt,
	}
}

func (r *IdentityResponse) toWire() (proto.Message, error) {
	s := stringStruct("userId", r.UserID, "email", r.Email, "displayName", r.DisplayName, "role", r.Role, "token", r.Token)
	s.Fields["emailVerified"] = structpb.NewBoolValue(r.EmailVerified)
	if !r.ExpiresAt.IsZero() {
		exp, err := encodeNormalized(r.ExpiresAt.UTC())
		if err != nil {
			return nil, err
		}
		s.Fields["expiresAt"] = exp
	}
	return s, nil
}

func (r *IdentityResponse) fromWire(m proto.Message) error {
	a := argsOf(m)
	exp, err := a.time("expiresAt")
	if err != nil {
		return err
	}
	*r = IdentityResponse{
		UserID:        a.str("userId"),
		Email:         a.str("email"),
		DisplayName:   a.str("displayName"),
		Role:          a.str("role"),
		EmailVerified: a.flag("emailVerified"),
		Token:         a.str("token"),
		ExpiresAt:     exp,
	}
	return nil
}

// Empty is the response of calls without a result.
type Empty struct {
	emptyMessage
}

// DocumentRef addresses one document.
type DocumentRef struct {
	structMessage
	Collection string
	ID         string
}

func (r *DocumentRef) toWire() (proto.Message, error) {
	return stringStruct("collection", r.Collection, "id", r.ID), nil
}

func (r *DocumentRef) fromWire(m proto.Message) error {
	a := argsOf(m)
	r.Collection, r.ID = a.str("collection"), a.str("id")
	return nil
}

// GetResponse carries one document.
type GetResponse struct {
	structMessage
	Document docstore.Document
}

func (r *GetResponse) toWire() (proto.Message, error) { return EncodeDocument(r.Document) }

func (r *GetResponse) fromWire(m proto.Message) error {
	s, _ := m.(*structpb.Struct)
	doc, err := DecodeDocument(s)
	r.Document = doc
	return err
}

// SetRequest upserts a document. Fields may hold sentinels.
type SetRequest struct {
	structMessage
	Collection string
	ID         string
	Fields     map[string]any
	Merge      bool
}

func (r *SetRequest) toWire() (proto.Message, error) {
	m, err := writeStruct(r.Collection, r.ID, r.Fields)
	if err != nil {
		return nil, err
	}
	m.(*structpb.Struct).Fields["merge"] = structpb.NewBoolValue(r.Merge)
	return m, nil
}

func (r *SetRequest) fromWire(m proto.Message) error {
	a := argsOf(m)
	fields, err := a.fields("fields")
	if err != nil {
		return err
	}
	r.Collection, r.ID, r.Fields, r.Merge = a.str("collection"), a.str("id"), fields, a.flag("merge")
	return nil
}

// WriteRequest carries the fields of a Create or Update.
type WriteRequest struct {
	structMessage
	Collection string
	ID         string
	Fields     map[string]any
}

func (r *WriteRequest) toWire() (proto.Message, error) {
	return writeStruct(r.Collection, r.ID, r.Fields)
}

func (r *WriteRequest) fromWire(m proto.Message) error {
	a := argsOf(m)
	fields, err := a.fields("fields")
	if err != nil {
		return err
	}
	r.Collection, r.ID, r.Fields = a.str("collection"), a.str("id"), fields
	return nil
}

// AddRequest inserts a document under a generated key.
type AddRequest struct {
	structMessage
	Collection string
	Fields     map[string]any
}

func (r *AddRequest) toWire() (proto.Message, error) {
	return writeStruct(r.Collection, "", r.Fields)
}

func (r *AddRequest) fromWire(m proto.Message) error {
	a := argsOf(m)
	fields, err := a.fields("fields")
	if err != nil {
		return err
	}
	r.Collection, r.Fields = a.str("collection"), fields
	return nil
}

// AddResponse returns the generated key.
type AddResponse struct {
	stringMessage
	ID string
}

func (r *AddResponse) toWire() (proto.Message, error) { return wrapperspb.String(r.ID), nil }

func (r *AddResponse) fromWire(m proto.Message) error {
	r.ID = stringOf(m)
	return nil
}

// QueryRequest runs a query once or subscribes to it. The query is validated
// as it is decoded.
type QueryRequest struct {
	structMessage
	Query docstore.Query
}

func (r *QueryRequest) toWire() (proto.Message, error) { return EncodeQuery(r.Query) }

func (r *QueryRequest) fromWire(m proto.Message) error {
	s, _ := m.(*structpb.Struct)
	q, err := DecodeQuery(s)
	r.Query = q
	return err
}

// QueryResponse carries an ordered result set.
type QueryResponse struct {
	Documents []docstore.Document
}

func (*QueryResponse) newWire() proto.Message { return &structpb.ListValue{} }

func (r *QueryResponse) toWire() (proto.Message, error) { return EncodeDocuments(r.Documents) }

func (r *QueryResponse) fromWire(m proto.Message) error {
	l, _ := m.(*structpb.ListValue)
	docs, err := DecodeDocuments(l)
	r.Documents = docs
	return err
}

// SnapshotResponse is one complete snapshot of a subscription.
type SnapshotResponse struct {
	structMessage
	Documents []docstore.Document
	ReadAt    time.Time
}

func (r *SnapshotResponse) toWire() (proto.Message, error) {
	docs, err := EncodeDocuments(r.Documents)
	if err != nil {
		return nil, err
	}
	readAt, err := encodeNormalized(r.ReadAt.UTC())
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"documents": structpb.NewListValue(docs),
		"readAt":    readAt,
	}}, nil
}

func (r *SnapshotResponse) fromWire(m proto.Message) error {
	a := argsOf(m)
	docs, err := DecodeDocuments(a["documents"].GetListValue())
	if err != nil {
		return err
	}
	readAt, err := a.time("readAt")
	if err != nil {
		return err
	}
	r.Documents, r.ReadAt = docs, readAt
	return nil
}

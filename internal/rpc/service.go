// Package rpc is the wire protocol between classroom clients and the server:
// the classroom.v1.Classroom gRPC service. Messages are protobuf well-known
// types (Struct, ListValue, StringValue and Empty) sent with the default
// proto codec.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "classroom.v1.Classroom"

// Method names.
const (
	MethodCreateAccount         = "CreateAccount"
	MethodSignIn                = "SignIn"
	MethodSendPasswordReset     = "SendPasswordReset"
	MethodResetPassword         = "ResetPassword"
	MethodReauthenticate        = "Reauthenticate"
	MethodChangePassword        = "ChangePassword"
	MethodDeleteAccount         = "DeleteAccount"
	MethodResume                = "Resume"
	MethodSendEmailVerification = "SendEmailVerification"
	MethodVerifyEmail           = "VerifyEmail"
	MethodSetDisabled           = "SetDisabled"
	MethodGet                   = "Get"
	MethodSet                   = "Set"
	MethodCreate                = "Create"
	MethodUpdate                = "Update"
	MethodAdd                   = "Add"
	MethodDelete                = "Delete"
	MethodQuery                 = "Query"
	MethodSubscribe             = "Subscribe"
)

// FullMethod returns the gRPC path of method, e.g. /classroom.v1.Classroom/SignIn.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ClassroomServer is the server API of the Classroom service.
type ClassroomServer interface {
	CreateAccount(context.Context, *CreateAccountRequest) (*IdentityResponse, error)
	SignIn(context.Context, *SignInRequest) (*IdentityResponse, error)
	SendPasswordReset(context.Context, *SendPasswordResetRequest) (*Empty, error)
	ResetPassword(context.Context, *ResetPasswordRequest) (*Empty, error)
	Reauthenticate(context.Context, *ReauthenticateRequest) (*IdentityResponse, error)
	ChangePassword(context.Context, *ChangePasswordRequest) (*IdentityResponse, error)
	DeleteAccount(context.Context, *DeleteAccountRequest) (*Empty, error)
	Resume(context.Context, *ResumeRequest) (*IdentityResponse, error)
	SendEmailVerification(context.Context, *SendEmailVerificationRequest) (*Empty, error)
	VerifyEmail(context.Context, *VerifyEmailRequest) (*Empty, error)
	SetDisabled(context.Context, *SetDisabledRequest) (*Empty, error)

	Get(context.Context, *DocumentRef) (*GetResponse, error)
	Set(context.Context, *SetRequest) (*Empty, error)
	Create(context.Context, *WriteRequest) (*Empty, error)
	Update(context.Context, *WriteRequest) (*Empty, error)
	Add(context.Context, *AddRequest) (*AddResponse, error)
	Delete(context.Context, *DocumentRef) (*Empty, error)
	Query(context.Context, *QueryRequest) (*QueryResponse, error)
	Subscribe(*QueryRequest, SubscribeServer) error
}

// UnimplementedClassroomServer answers every method with Unimplemented.
// Embed it to stay forward compatible.
type UnimplementedClassroomServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedClassroomServer) CreateAccount(context.Context, *CreateAccountRequest) (*IdentityResponse, error) {
	return nil, unimplemented(MethodCreateAccount)
}
func (UnimplementedClassroomServer) SignIn(context.Context, *SignInRequest) (*IdentityResponse, error) {
	return nil, unimplemented(MethodSignIn)
}
func (UnimplementedClassroomServer) SendPasswordReset(context.Context, *SendPasswordResetRequest) (*Empty, error) {
	return nil, unimplemented(MethodSendPasswordReset)
}
func (UnimplementedClassroomServer) ResetPassword(context.Context, *ResetPasswordRequest) (*Empty, error) {
	return nil, unimplemented(MethodResetPassword)
}
func (UnimplementedClassroomServer) Reauthenticate(context.Context, *ReauthenticateRequest) (*IdentityResponse, error) {
	return nil, unimplemented(MethodReauthenticate)
}
func (UnimplementedClassroomServer) ChangePassword(context.Context, *ChangePasswordRequest) (*IdentityResponse, error) {
	return nil, unimplemented(MethodChangePassword)
}
func (UnimplementedClassroomServer) DeleteAccount(context.Context, *DeleteAccountRequest) (*Empty, error) {
	return nil, unimplemented(MethodDeleteAccount)
}
func (UnimplementedClassroomServer) Resume(context.Context, *ResumeRequest) (*IdentityResponse, error) {
	return nil, unimplemented(MethodResume)
}
func (UnimplementedClassroomServer) SendEmailVerification(context.Context, *SendEmailVerificationRequest) (*Empty, error) {
	return nil, unimplemented(MethodSendEmailVerification)
}
func (UnimplementedClassroomServer) VerifyEmail(context.Context, *VerifyEmailRequest) (*Empty, error) {
	return nil, unimplemented(MethodVerifyEmail)
}
func (UnimplementedClassroomServer) SetDisabled(context.Context, *SetDisabledRequest) (*Empty, error) {
	return nil, unimplemented(MethodSetDisabled)
}
func (UnimplementedClassroomServer) Get(context.Context, *DocumentRef) (*GetResponse, error) {
	return nil, unimplemented(MethodGet)
}
func (UnimplementedClassroomServer) Set(context.Context, *SetRequest) (*Empty, error) {
	return nil, unimplemented(MethodSet)
}
func (UnimplementedClassroomServer) Create(context.Context, *WriteRequest) (*Empty, error) {
	return nil, unimplemented(MethodCreate)
}
func (UnimplementedClassroomServer) Update(context.Context, *WriteRequest) (*Empty, error) {
	return nil, unimplemented(MethodUpdate)
}
func (UnimplementedClassroomServer) Add(context.Context, *AddRequest) (*AddResponse, error) {
	return nil, unimplemented(MethodAdd)
}
func (UnimplementedClassroomServer) Delete(context.Context, *DocumentRef) (*Empty, error) {
	return nil, unimplemented(MethodDelete)
}
func (UnimplementedClassroomServer) Query(context.Context, *QueryRequest) (*QueryResponse, error) {
	return nil, unimplemented(MethodQuery)
}
func (UnimplementedClassroomServer) Subscribe(*QueryRequest, SubscribeServer) error {
	return unimplemented(MethodSubscribe)
}

// SubscribeServer is the server side of a Subscribe stream.
type SubscribeServer interface {
	Send(*SnapshotResponse) error
	grpc.ServerStream
}

type subscribeServer struct {
	grpc.ServerStream
}

func (s *subscribeServer) Send(m *SnapshotResponse) error {
	w, err := m.toWire()
	if err != nil {
		return err
	}
	return s.ServerStream.SendMsg(w)
}

// RegisterClassroomServer registers srv on s.
func RegisterClassroomServer(s grpc.ServiceRegistrar, srv ClassroomServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// decodeRequest reads the wire form of a request into in. Malformed requests
// are rejected as invalid arguments.
func decodeRequest(dec func(any) error, in wireMessage) error {
	w := in.newWire()
	if err := dec(w); err != nil {
		return err
	}
	if err := in.fromWire(w); err != nil {
		return ToStatus(apperr.Validation(err))
	}
	return nil
}

// unary describes a method whose handler sees typed requests. Interceptors
// see the typed request too; the response is converted to its wire form
// after the handler returns.
func unary[Req, Resp any, PReq interface {
	*Req
	wireMessage
}, PResp interface {
	*Resp
	wireMessage
}](method string, call func(ClassroomServer, context.Context, PReq) (PResp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := decodeRequest(dec, in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := call(srv.(ClassroomServer), ctx, req.(PReq))
				if err != nil {
					return nil, err
				}
				return out.toWire()
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(QueryRequest)
	if err := decodeRequest(stream.RecvMsg, in); err != nil {
		return err
	}
	return srv.(ClassroomServer).Subscribe(in, &subscribeServer{stream})
}

// ServiceDesc describes the Classroom service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClassroomServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodCreateAccount, ClassroomServer.CreateAccount),
		unary(MethodSignIn, ClassroomServer.SignIn),
		unary(MethodSendPasswordReset, ClassroomServer.SendPasswordReset),
		unary(MethodResetPassword, ClassroomServer.ResetPassword),
		unary(MethodReauthenticate, ClassroomServer.Reauthenticate),
		unary(MethodChangePassword, ClassroomServer.ChangePassword),
		unary(MethodDeleteAccount, ClassroomServer.DeleteAccount),
		unary(MethodResume, ClassroomServer.Resume),
		unary(MethodSendEmailVerification, ClassroomServer.SendEmailVerification),
		unary(MethodVerifyEmail, ClassroomServer.VerifyEmail),
		unary(MethodSetDisabled, ClassroomServer.SetDisabled),
		unary(MethodGet, ClassroomServer.Get),
		unary(MethodSet, ClassroomServer.Set),
		unary(MethodCreate, ClassroomServer.Create),
		unary(MethodUpdate, ClassroomServer.Update),
		unary(MethodAdd, ClassroomServer.Add),
		unary(MethodDelete, ClassroomServer.Delete),
		unary(MethodQuery, ClassroomServer.Query),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodSubscribe,
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "classroom/v1/classroom.proto",
}

package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/presence"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/rpc"
)

// publicMethods are served without a session token. Token-carrying identity
// calls verify their token themselves.
var publicMethods = map[string]bool{
	rpc.FullMethod(rpc.MethodCreateAccount):     true,
	rpc.FullMethod(rpc.MethodSignIn):            true,
	rpc.FullMethod(rpc.MethodSendPasswordReset): true,
	rpc.FullMethod(rpc.MethodResetPassword):     true,
	rpc.FullMethod(rpc.MethodReauthenticate):    true,
	rpc.FullMethod(rpc.MethodChangePassword):    true,
	rpc.FullMethod(rpc.MethodDeleteAccount):     true,
	rpc.FullMethod(rpc.MethodResume):            true,
	rpc.FullMethod(rpc.MethodVerifyEmail):       true,
}

// tokenMethods carry a token in the request instead of the header; they are
// rate limited per peer.
var tokenMethods = map[string]bool{
	rpc.FullMethod(rpc.MethodResetPassword):  true,
	rpc.FullMethod(rpc.MethodReauthenticate): true,
	rpc.FullMethod(rpc.MethodChangePassword): true,
	rpc.FullMethod(rpc.MethodDeleteAccount):  true,
	rpc.FullMethod(rpc.MethodResume):         true,
	rpc.FullMethod(rpc.MethodVerifyEmail):    true,
}

// TokenVerifier authenticates session tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (auth.Subject, error)
}

// context key type for storing the caller in context
type callerContextKey struct{}

// callerFromContext extracts the authenticated caller, if present.
func callerFromContext(ctx context.Context) (auth.Subject, bool) {
	c, ok := ctx.Value(callerContextKey{}).(auth.Subject)
	return c, ok
}

func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Errorf(codes.Unauthenticated, "missing metadata")
	}
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return "", status.Errorf(codes.Unauthenticated, "missing authorization header")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeaders[0], "Bearer"))
	if token == "" {
		return "", status.Errorf(codes.Unauthenticated, "invalid token")
	}
	return token, nil
}

// authenticator verifies the bearer token of a call and refreshes the
// caller's liveness, so any authenticated traffic counts as a heartbeat.
type authenticator struct {
	verifier TokenVerifier
	liveness presence.Liveness
	logger   *slog.Logger
}

func (a *authenticator) authenticate(ctx context.Context) (context.Context, error) {
	token, err := bearerToken(ctx)
	if err != nil {
		return nil, err
	}
	caller, err := a.verifier.VerifyToken(ctx, token)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	if a.liveness != nil {
		if err := a.liveness.Touch(ctx, caller.UserID); err != nil {
			a.logger.Warn("liveness touch failed", "user_id", caller.UserID, "error", err)
		}
	}
	return context.WithValue(ctx, callerContextKey{}, caller), nil
}

// unary returns a UnaryServerInterceptor that enforces authentication for all
// methods except publicMethods.
func (a *authenticator) unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		ctx, err := a.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// stream is the stream equivalent of unary.
func (a *authenticator) stream() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if publicMethods[info.FullMethod] {
			return handler(srv, ss)
		}
		ctx, err := a.authenticate(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, grpcmiddlewareServerStream{ServerStream: ss, ctx: ctx})
	}
}

// grpcmiddlewareServerStream wraps grpc.ServerStream to override Context()
type grpcmiddlewareServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context (with the caller)
func (g grpcmiddlewareServerStream) Context() context.Context { return g.ctx }

// statusUnaryInterceptor maps handler errors onto gRPC statuses and logs each
// call. It is the outermost interceptor.
func statusUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		st := rpc.ToStatus(err)
		logCall(ctx, logger, info.FullMethod, start, st, err)
		return resp, st
	}
}

// statusStreamInterceptor is the stream equivalent of statusUnaryInterceptor.
func statusStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		st := rpc.ToStatus(err)
		logCall(ss.Context(), logger, info.FullMethod, start, st, err)
		return st
	}
}

// logCall logs the status sent to the client and the unmapped cause.
func logCall(ctx context.Context, logger *slog.Logger, method string, start time.Time, st, cause error) {
	code := status.Code(st)
	level := slog.LevelInfo
	if code == codes.Internal || code == codes.Unknown {
		level = slog.LevelError
	}
	attrs := []any{"method", method, "code", code.String(), "duration", time.Since(start)}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	logger.Log(ctx, level, "rpc", attrs...)
}

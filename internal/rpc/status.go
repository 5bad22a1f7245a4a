package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
)

var (
	// ErrUnavailable is returned when the server cannot be reached.
	ErrUnavailable = errors.New("service unavailable")
	// ErrAborted is returned when the server ends a call it may accept again,
	// such as the stream of a disconnected account.
	ErrAborted = errors.New("call aborted")
)

// authCodes picks the status code an AuthError travels under. The AuthCode
// itself is the status message.
var authCodes = map[apperr.AuthCode]codes.Code{
	apperr.InvalidCredentialFormat: codes.InvalidArgument,
	apperr.WeakCredential:          codes.InvalidArgument,
	apperr.AccountDisabled:         codes.PermissionDenied,
	apperr.AccountNotFound:         codes.NotFound,
	apperr.CredentialMismatch:      codes.Unauthenticated,
	apperr.RateLimited:             codes.ResourceExhausted,
	apperr.NetworkUnavailable:      codes.Unavailable,
	apperr.EmailInUse:              codes.AlreadyExists,
}

// ToStatus maps a handler error onto a gRPC status error. Errors outside the
// taxonomy become Internal without leaking their text.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var (
		ae *apperr.AuthError
		ve *apperr.ValidationError
		nf *apperr.NotFoundError
	)
	switch {
	case errors.As(err, &ae):
		code, ok := authCodes[ae.Code]
		if !ok {
			code = codes.Unauthenticated
		}
		return status.Error(code, string(ae.Code))
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, identity.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, identity.ErrInvalidToken.Error())
	case errors.As(err, &ve):
		st := status.New(codes.InvalidArgument, ve.Error())
		if len(ve.Fields) > 0 {
			br := &errdetails.BadRequest{}
			for _, f := range ve.Fields {
				br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{Field: f.Field, Description: f.Error})
			}
			if withDetails, derr := st.WithDetails(br); derr == nil {
				st = withDetails
			}
		}
		return st.Err()
	case errors.Is(err, docstore.ErrInvalidQuery):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &nf):
		st := status.New(codes.NotFound, nf.Error())
		if withDetails, derr := st.WithDetails(&errdetails.ResourceInfo{ResourceType: nf.Collection, ResourceName: nf.ID}); derr == nil {
			st = withDetails
		}
		return st.Err()
	case errors.Is(err, apperr.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, docstore.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

// FromStatus maps a status error received by a client back onto the
// taxonomy.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	if code, ok := apperr.ParseAuthCode(msg); ok {
		return apperr.Auth(code, nil)
	}

	switch st.Code() {
	case codes.InvalidArgument:
		var fields []apperr.FieldError
		for _, d := range st.Details() {
			if br, ok := d.(*errdetails.BadRequest); ok {
				for _, v := range br.GetFieldViolations() {
					fields = append(fields, apperr.FieldError{Field: v.GetField(), Error: v.GetDescription()})
				}
			}
		}
		if len(fields) > 0 {
			return apperr.Validation(nil, fields...)
		}
		return apperr.Validation(errors.New(msg))
	case codes.NotFound:
		for _, d := range st.Details() {
			if ri, ok := d.(*errdetails.ResourceInfo); ok {
				return apperr.NotFound(ri.GetResourceType(), ri.GetResourceName())
			}
		}
		return apperr.NotFound("", "")
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", apperr.ErrPermissionDenied, msg)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, msg)
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", identity.ErrInvalidToken, msg)
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, msg)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, msg)
	case codes.Aborted:
		return fmt.Errorf("%w: %s", ErrAborted, msg)
	case codes.Unavailable, codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}
	return fmt.Errorf("rpc %s: %s", st.Code(), msg)
}

// isNetwork reports whether err means the server could not be reached.
func isNetwork(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

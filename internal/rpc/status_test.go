package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
)

func TestAuthErrorsRoundTrip(t *testing.T) {
	for code, want := range authCodes {
		st := ToStatus(apperr.Auth(code, errors.New("cause")))
		assert.Equal(t, want, status.Code(st), code)

		back := FromStatus(st)
		got, ok := apperr.AuthCodeOf(back)
		require.True(t, ok, code)
		assert.Equal(t, code, got)
	}
}

func TestValidationKeepsFields(t *testing.T) {
	st := ToStatus(apperr.Validation(nil,
		apperr.FieldError{Field: "title", Error: "this field is required"},
		apperr.FieldError{Field: "link", Error: "please enter a valid Google Drive link"},
	))
	assert.Equal(t, codes.InvalidArgument, status.Code(st))

	var ve *apperr.ValidationError
	require.True(t, errors.As(FromStatus(st), &ve))
	assert.Equal(t, []apperr.FieldError{
		{Field: "title", Error: "this field is required"},
		{Field: "link", Error: "please enter a valid Google Drive link"},
	}, ve.Fields)
}

func TestStoreErrorsRoundTrip(t *testing.T) {
	back := FromStatus(ToStatus(apperr.NotFound("doubts", "d1")))
	var nf *apperr.NotFoundError
	require.True(t, errors.As(back, &nf))
	assert.Equal(t, "doubts", nf.Collection)
	assert.Equal(t, "d1", nf.ID)

	denied := fmt.Errorf("%w: homework is teacher only", apperr.ErrPermissionDenied)
	assert.Equal(t, codes.PermissionDenied, status.Code(ToStatus(apperr.Write("add homework", denied))))
	assert.ErrorIs(t, FromStatus(ToStatus(denied)), apperr.ErrPermissionDenied)

	assert.ErrorIs(t, FromStatus(ToStatus(docstore.ErrAlreadyExists)), docstore.ErrAlreadyExists)
	assert.ErrorIs(t, FromStatus(ToStatus(identity.ErrInvalidToken)), identity.ErrInvalidToken)
	assert.Equal(t, codes.InvalidArgument, status.Code(ToStatus(fmt.Errorf("%w: bad", docstore.ErrInvalidQuery))))
	assert.Equal(t, codes.Canceled, status.Code(ToStatus(context.Canceled)))
}

func TestUnknownErrorsDoNotLeak(t *testing.T) {
	st := ToStatus(errors.New("mongo: connection refused at 10.0.0.3"))
	assert.Equal(t, codes.Internal, status.Code(st))
	assert.NotContains(t, st.Error(), "10.0.0.3")

	assert.ErrorIs(t, FromStatus(status.Error(codes.Unavailable, "down")), ErrUnavailable)
	assert.Nil(t, ToStatus(nil))
	assert.Nil(t, FromStatus(nil))
}

func TestIdentityErrMapsNetwork(t *testing.T) {
	err := identityErr(FromStatus(status.Error(codes.Unavailable, "connection refused")))
	code, ok := apperr.AuthCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperr.NetworkUnavailable, code)
}

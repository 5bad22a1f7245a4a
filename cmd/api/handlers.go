package main

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/mirror"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/rpc"
)

// CreateAccount registers a new account and returns its first session.
func (s *Server) CreateAccount(ctx context.Context, req *rpc.CreateAccountRequest) (*rpc.IdentityResponse, error) {
	id, err := s.ids.CreateAccount(ctx, req.Email, req.Password, req.DisplayName)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account created", "user_id", id.UserID, "role", id.Role)
	return rpc.NewIdentityResponse(id), nil
}

// SignIn authenticates a user and returns a session token.
func (s *Server) SignIn(ctx context.Context, req *rpc.SignInRequest) (*rpc.IdentityResponse, error) {
	id, err := s.ids.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	return rpc.NewIdentityResponse(id), nil
}

// SendPasswordReset mails a reset code. Unknown addresses fail with
// account-not-found, matching the identity provider.
func (s *Server) SendPasswordReset(ctx context.Context, req *rpc.SendPasswordResetRequest) (*rpc.Empty, error) {
	if err := s.ids.SendPasswordReset(ctx, req.Email); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

// ResetPassword sets a new password with a mailed code.
func (s *Server) ResetPassword(ctx context.Context, req *rpc.ResetPasswordRequest) (*rpc.Empty, error) {
	if err := s.ids.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

// Reauthenticate confirms the password behind a session token.
func (s *Server) Reauthenticate(ctx context.Context, req *rpc.ReauthenticateRequest) (*rpc.IdentityResponse, error) {
	id, err := s.ids.Reauthenticate(ctx, req.Token, req.Password)
	if err != nil {
		return nil, err
	}
	return rpc.NewIdentityResponse(id), nil
}

// ChangePassword replaces the caller's password after confirming the current
// one. The token travels in the request, like Reauthenticate.
func (s *Server) ChangePassword(ctx context.Context, req *rpc.ChangePasswordRequest) (*rpc.IdentityResponse, error) {
	id, err := s.ids.ChangePassword(ctx, req.Token, req.Password, req.NewPassword)
	if err != nil {
		return nil, err
	}
	return rpc.NewIdentityResponse(id), nil
}

// DeleteAccount removes the caller's account after confirming the password
// and ends its open streams.
func (s *Server) DeleteAccount(ctx context.Context, req *rpc.DeleteAccountRequest) (*rpc.Empty, error) {
	caller, err := s.ids.VerifyToken(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if err := s.ids.DeleteAccount(ctx, req.Token, req.Password); err != nil {
		return nil, err
	}
	if s.hub != nil {
		s.hub.Disconnect(caller.UserID)
	}
	return &rpc.Empty{}, nil
}

// Resume restores a remembered session.
func (s *Server) Resume(ctx context.Context, req *rpc.ResumeRequest) (*rpc.IdentityResponse, error) {
	id, err := s.ids.Resume(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	return rpc.NewIdentityResponse(id), nil
}

// SendEmailVerification mails a verification code to the caller.
func (s *Server) SendEmailVerification(ctx context.Context, _ *rpc.SendEmailVerificationRequest) (*rpc.Empty, error) {
	caller, err := mustCaller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ids.SendEmailVerification(ctx, caller.UserID); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

// VerifyEmail confirms an email address with a mailed code.
func (s *Server) VerifyEmail(ctx context.Context, req *rpc.VerifyEmailRequest) (*rpc.Empty, error) {
	if err := s.ids.VerifyEmail(ctx, req.Token); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

// SetDisabled lets the teacher disable or re-enable an account. Disabling
// also ends the account's open streams.
func (s *Server) SetDisabled(ctx context.Context, req *rpc.SetDisabledRequest) (*rpc.Empty, error) {
	caller, err := mustCaller(ctx)
	if err != nil {
		return nil, err
	}
	if caller.Role != auth.RoleTeacher {
		return nil, status.Errorf(codes.PermissionDenied, "only the teacher can change account status")
	}
	if req.UserID == caller.UserID {
		return nil, apperr.Validation(nil, apperr.FieldError{Field: "userId", Error: "you cannot disable your own account"})
	}
	if err := s.ids.SetDisabled(ctx, req.UserID, req.Disabled); err != nil {
		return nil, err
	}
	if req.Disabled && s.hub != nil {
		n := s.hub.Disconnect(req.UserID)
		s.logger.Info("disconnected disabled account", "user_id", req.UserID, "streams", n)
	}
	return &rpc.Empty{}, nil
}

func mustCaller(ctx context.Context) (auth.Subject, error) {
	caller, ok := callerFromContext(ctx)
	if !ok {
		return auth.Subject{}, status.Errorf(codes.Unauthenticated, "missing caller")
	}
	return caller, nil
}

// scope returns the document store as seen by the caller.
func (s *Server) scope(ctx context.Context) (docstore.Store, auth.Subject, error) {
	caller, err := mustCaller(ctx)
	if err != nil {
		return nil, auth.Subject{}, err
	}
	return s.guard.For(caller), caller, nil
}

// Get returns one document.
func (s *Server) Get(ctx context.Context, req *rpc.DocumentRef) (*rpc.GetResponse, error) {
	store, _, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := store.Get(ctx, req.Collection, req.ID)
	if err != nil {
		return nil, err
	}
	return &rpc.GetResponse{Document: doc}, nil
}

// Set upserts a document.
func (s *Server) Set(ctx context.Context, req *rpc.SetRequest) (*rpc.Empty, error) {
	store, _, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Set(ctx, req.Collection, req.ID, req.Fields, req.Merge); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

// Create inserts a document unless its key is taken.
func (s *Server) Create(ctx context.Context, req *rpc.WriteRequest) (*rpc.Empty, error) {
	store, _, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Create(ctx, req.Collection, req.ID, req.Fields); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

// Update modifies fields of an existing document.
func (s *Server) Update(ctx context.Context, req *rpc.WriteRequest) (*rpc.Empty, error) {
	store, _, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Update(ctx, req.Collection, req.ID, req.Fields); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

// Add appends a document under a generated key.
func (s *Server) Add(ctx context.Context, req *rpc.AddRequest) (*rpc.AddResponse, error) {
	store, _, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	id, err := store.Add(ctx, req.Collection, req.Fields)
	if err != nil {
		return nil, err
	}
	return &rpc.AddResponse{ID: id}, nil
}

// Delete removes a document.
func (s *Server) Delete(ctx context.Context, req *rpc.DocumentRef) (*rpc.Empty, error) {
	store, caller, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Delete(ctx, req.Collection, req.ID); err != nil {
		return nil, err
	}
	s.logger.Info("document deleted", "collection", req.Collection, "id", req.ID, "by", caller.UserID)
	return &rpc.Empty{}, nil
}

// Query runs a query once.
func (s *Server) Query(ctx context.Context, req *rpc.QueryRequest) (*rpc.QueryResponse, error) {
	store, _, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Query.Validate(); err != nil {
		return nil, err
	}
	docs, err := store.Query(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	return &rpc.QueryResponse{Documents: docs}, nil
}

// Subscribe streams a complete snapshot of the query after every change until
// the client goes away or its account is disconnected. A slow client skips
// intermediate snapshots, never the latest one.
func (s *Server) Subscribe(req *rpc.QueryRequest, stream rpc.SubscribeServer) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	store, caller, err := s.scope(ctx)
	if err != nil {
		return err
	}
	if err := req.Query.Validate(); err != nil {
		return err
	}
	snaps, err := mirror.New(store).Watch(ctx, req.Query)
	if err != nil {
		return err
	}

	if s.hub != nil {
		connID := s.hub.Register(caller.UserID, cancel)
		defer s.hub.Unregister(ctx, caller.UserID, connID)
	}

	for snap := range snaps {
		if err := stream.Send(&rpc.SnapshotResponse{Documents: snap.Docs, ReadAt: snap.ReadAt}); err != nil {
			return status.Errorf(codes.Unavailable, "failed to send snapshot: %v", err)
		}
	}
	if stream.Context().Err() == nil {
		// ended by Disconnect; the client may resubscribe once allowed again
		return status.Errorf(codes.Aborted, "account disconnected")
	}
	return nil
}

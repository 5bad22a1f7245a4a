package main

import (
	"log/slog"

	"google.golang.org/grpc"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/access"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/rpc"
)

// Server implements the classroom service: identity calls go to the identity
// provider, document calls to the store through the caller's access scope.
type Server struct {
	rpc.UnimplementedClassroomServer

	ids    *identity.Service
	guard  *access.Guard
	hub    *StreamHub
	logger *slog.Logger
}

// newServer returns a ready-to-use Server.
func newServer(ids *identity.Service, guard *access.Guard, hub *StreamHub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ids: ids, guard: guard, hub: hub, logger: logger}
}

// registerService registers the Classroom service on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	rpc.RegisterClassroomServer(s, srv)
}

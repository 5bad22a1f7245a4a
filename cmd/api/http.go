package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/access"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/mirror"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/presence"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/view"
)

// requestTimeout bounds the store reads of one dashboard request.
const requestTimeout = 5 * time.Second

// dashboard is the read-only HTTP view of the classroom: the same rendered
// lists a portal shows, for browsers and monitoring.
type dashboard struct {
	verifier       TokenVerifier
	guard          *access.Guard
	hub            *StreamHub
	render         view.Options
	communityLimit int
	logger         *slog.Logger
}

func newHTTPApp(d *dashboard) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          d.errorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	app.Get("/healthz", d.health)

	api := app.Group("/api", d.requireBearer)
	api.Get("/online", d.online)
	api.Get("/collections/:name", d.collection)
	return app
}

func (d *dashboard) health(c *fiber.Ctx) error {
	streams := 0
	if d.hub != nil {
		streams = d.hub.Count()
	}
	return c.JSON(fiber.Map{"status": "ok", "streams": streams})
}

// requireBearer authenticates /api requests with a session token.
func (d *dashboard) requireBearer(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	if token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	caller, err := d.verifier.VerifyToken(c.UserContext(), token)
	if err != nil {
		return err
	}
	c.Locals("caller", caller)
	return c.Next()
}

func (d *dashboard) store(c *fiber.Ctx) (docstore.Store, context.Context, context.CancelFunc) {
	caller, _ := c.Locals("caller").(auth.Subject)
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	return d.guard.For(caller), ctx, cancel
}

func (d *dashboard) online(c *fiber.Ctx) error {
	store, ctx, cancel := d.store(c)
	defer cancel()

	docs, err := store.Query(ctx, presence.OnlineQuery())
	if err != nil {
		return err
	}
	online := make(map[string]presence.Record, len(docs))
	for _, doc := range docs {
		r := presence.RecordFromDocument(doc)
		online[r.UserID] = r
	}
	return c.JSON(view.Online(online, d.render))
}

func (d *dashboard) collection(c *fiber.Ctx) error {
	store, ctx, cancel := d.store(c)
	defer cancel()

	var coll mirror.Collection
	switch c.Params("name") {
	case mirror.CommunityCollection.Name:
		coll = mirror.CommunityCollection.WithLimit(d.communityLimit)
	case mirror.HomeworkCollection.Name:
		coll = mirror.HomeworkCollection
	case mirror.ResourcesCollection.Name:
		coll = mirror.ResourcesCollection
	case mirror.DoubtsCollection.Name:
		coll = mirror.DoubtsCollection
	default:
		return fiber.NewError(fiber.StatusNotFound, "unknown collection")
	}

	docs, err := store.Query(ctx, coll.Query())
	if err != nil {
		return err
	}
	snap := docstore.Snapshot{Docs: docs}
	switch coll.Name {
	case mirror.CommunityCollection.Name:
		return c.JSON(view.Chat(mirror.Decode(snap, mirror.MessageFromDocument), d.render))
	case mirror.HomeworkCollection.Name:
		return c.JSON(view.HomeworkCards(mirror.Decode(snap, mirror.HomeworkFromDocument), d.render))
	case mirror.ResourcesCollection.Name:
		return c.JSON(view.ResourceCards(mirror.Decode(snap, mirror.ResourceFromDocument), d.render))
	default:
		return c.JSON(view.DoubtItems(mirror.Decode(snap, mirror.DoubtFromDocument), d.render))
	}
}

// errorHandler maps errors onto HTTP statuses with a user-facing message.
func (d *dashboard) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := apperr.UserMessage(err)

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code, msg = fe.Code, fe.Message
	case errors.Is(err, identity.ErrInvalidToken):
		code = fiber.StatusUnauthorized
		msg = "invalid or expired token"
	case apperr.IsValidation(err):
		code = fiber.StatusBadRequest
	case apperr.IsNotFound(err):
		code = fiber.StatusNotFound
	case errors.Is(err, apperr.ErrPermissionDenied):
		code = fiber.StatusForbidden
	default:
		if ac, ok := apperr.AuthCodeOf(err); ok && ac == apperr.AccountDisabled {
			code = fiber.StatusForbidden
		}
	}
	if code >= fiber.StatusInternalServerError {
		d.logger.Error("dashboard request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

package main

import (
	"context"
	"errors"
	"strings"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/mirror"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/session"
)

var errQuit = errors.New("quit")

const helpText = `Commands:
  <text>                              post to the community chat
  /online                             list online users
  /doubts                             list doubts
  /ask <question>                     ask a doubt
  /answer <doubt id> <text>           answer a doubt
  /homework <title> | <desc> | [due]  assign homework (teacher, due as YYYY-MM-DD)
  /resource <title> | <link> | [type] share a Drive resource (teacher)
  /password <current> <new>           change your password
  /delete <password>                  delete your account and leave
  /quit                               leave
`

// account holds the operations that need the current password.
type account interface {
	ChangePassword(ctx context.Context, password, newPassword string) (identity.Identity, error)
	DeleteAccount(ctx context.Context, password string) error
}

type commands struct {
	mirror  *mirror.Mirror
	account account
	session session.Session
	out     *console
}

// commandLoop runs commands until ctx is done, stdin closes or /quit.
func commandLoop(ctx context.Context, c *commands, in <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-in:
			if !ok {
				return errQuit
			}
			if err := c.run(ctx, strings.TrimSpace(line)); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				c.out.printf("Error: %s\n", describe(err))
			}
		}
	}
}

// describe lists field errors of a validation failure.
func describe(err error) string {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) && len(ve.Fields) > 0 {
		parts := make([]string, 0, len(ve.Fields))
		for _, f := range ve.Fields {
			parts = append(parts, f.Field+": "+f.Error)
		}
		return strings.Join(parts, "; ")
	}
	return apperr.UserMessage(err)
}

func (c *commands) run(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := c.mirror.PostMessage(ctx, c.session, line)
		return err
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		c.out.printf("%s", helpText)
	case "/online":
		c.out.printOnline()
	case "/doubts":
		c.out.printDoubts()
	case "/ask":
		_, err := c.mirror.AskDoubt(ctx, c.session, rest)
		return err
	case "/answer":
		id, text, _ := strings.Cut(rest, " ")
		return c.mirror.AnswerDoubt(ctx, c.session, id, text)
	case "/homework":
		parts := fields(rest, 3)
		_, err := c.mirror.AssignHomework(ctx, c.session, mirror.Homework{
			Title:       parts[0],
			Description: parts[1],
			DueDate:     parts[2],
		})
		if err == nil {
			c.out.printf("Homework assigned.\n")
		}
		return err
	case "/resource":
		parts := fields(rest, 3)
		_, err := c.mirror.AddResource(ctx, c.session, mirror.Resource{
			Title: parts[0],
			Link:  parts[1],
			Type:  parts[2],
		})
		if err == nil {
			c.out.printf("Resource shared.\n")
		}
		return err
	case "/password":
		current, next, _ := strings.Cut(rest, " ")
		if _, err := c.account.ChangePassword(ctx, current, strings.TrimSpace(next)); err != nil {
			return err
		}
		c.out.printf("Password changed.\n")
	case "/delete":
		if err := c.account.DeleteAccount(ctx, rest); err != nil {
			return err
		}
		c.out.printf("Account deleted.\n")
		return errQuit
	default:
		c.out.printf("Unknown command %s. Type /help.\n", cmd)
	}
	return nil
}

// fields splits s on "|" into exactly n trimmed parts.
func fields(s string, n int) []string {
	out := make([]string, n)
	for i, p := range strings.SplitN(s, "|", n) {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

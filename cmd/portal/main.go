// Command portal is a terminal client for the classroom service. It signs in,
// publishes presence and mirrors the community chat, doubts and online list
// live while reading commands from stdin.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/identity"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/mirror"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/presence"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/rpc"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/session"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/view"
)

type options struct {
	addr         string
	useTLS       bool
	email        string
	name         string
	create       bool
	remember     bool
	tokenFile    string
	teacherEmail string
	heartbeat    time.Duration
	verbose      bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.addr, "addr", envOr("PORTAL_ADDR", "localhost:50051"), "classroom server address")
	flag.BoolVar(&o.useTLS, "tls", false, "connect with TLS")
	flag.StringVar(&o.email, "email", "", "account email (prompted when empty)")
	flag.StringVar(&o.name, "name", "", "display name for a new account")
	flag.BoolVar(&o.create, "create", false, "create the account instead of signing in")
	flag.BoolVar(&o.remember, "remember", false, "keep the session in the token file")
	flag.StringVar(&o.tokenFile, "token-file", defaultTokenFile(), "where a remembered session is kept")
	flag.StringVar(&o.teacherEmail, "teacher-email", os.Getenv("TEACHER_EMAIL"), "email of the teacher account")
	flag.DurationVar(&o.heartbeat, "heartbeat", 30*time.Second, "presence heartbeat interval")
	flag.BoolVar(&o.verbose, "v", false, "log debug output to stderr")
	flag.Parse()
	return o
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "classroom", "token")
}

func main() {
	opts := parseFlags()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(opts, logger); err != nil {
		fmt.Fprintln(os.Stderr, apperr.UserMessage(err))
		os.Exit(1)
	}
}

func run(opts options, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds := insecure.NewCredentials()
	if opts.useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := rpc.Dial(opts.addr, creds)
	if err != nil {
		return err
	}
	defer conn.Close()

	out := newConsole(os.Stdout, view.Options{Location: time.Local, TeacherEmail: opts.teacherEmail})
	client := rpc.NewClient(conn, rpc.WithLogger(logger), rpc.WithSubscriptionErrors(out.subscriptionError))
	idOpts := []identity.ClientOption{identity.WithClientLogger(logger)}
	if opts.tokenFile != "" {
		idOpts = append(idOpts, identity.WithTokenFile(opts.tokenFile))
	}
	ids := identity.NewClient(client, idOpts...)
	client.SetTokenSource(ids.Token)

	sess := session.New(ids, opts.teacherEmail,
		session.WithProfileEnsurer(session.StoreProfiles{Store: client}),
		session.WithLogger(logger),
	)
	defer sess.Close()

	in := bufio.NewReader(os.Stdin)
	if err := signIn(ctx, ids, in, opts); err != nil {
		return err
	}
	s, ok := sess.Current()
	if !ok {
		return errors.New("not signed in")
	}

	out.printf("Signed in as %s (%s). Type /help for commands.\n", s.Email, s.Role)

	tracker := presence.NewTracker(client, logger)
	if err := tracker.SetOnline(ctx, s, true); err != nil {
		return err
	}
	defer tracker.Shutdown(ctx, s)

	m := mirror.New(client)
	unsubChat, err := mirror.SubscribeTyped(ctx, m, mirror.CommunityCollection, mirror.MessageFromDocument, out.chat)
	if err != nil {
		return err
	}
	defer unsubChat()
	unsubDoubts, err := mirror.SubscribeTyped(ctx, m, mirror.DoubtsCollection, mirror.DoubtFromDocument, out.doubts)
	if err != nil {
		return err
	}
	defer unsubDoubts()
	unsubOnline, err := tracker.SubscribeOnlineUsers(ctx, out.online)
	if err != nil {
		return err
	}
	defer unsubOnline()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := tracker.Heartbeat(gctx, s, opts.heartbeat); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return commandLoop(gctx, &commands{mirror: m, account: ids, session: s, out: out}, lines(in))
	})
	err = g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// signIn resumes a remembered session or asks for credentials.
func signIn(ctx context.Context, ids *identity.Client, in *bufio.Reader, opts options) error {
	if err := ids.Restore(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Saved session not restored:", apperr.UserMessage(err))
	}
	if _, ok := ids.Current(); ok {
		return nil
	}

	email := opts.email
	if email == "" {
		fmt.Print("Email: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return err
		}
		email = strings.TrimSpace(line)
	}
	password, err := readPassword(in)
	if err != nil {
		return err
	}
	if opts.remember {
		if err := ids.SetPersistence(identity.Durable); err != nil {
			return err
		}
	}

	if opts.create {
		_, err = ids.CreateAccount(ctx, email, password, opts.name)
	} else {
		_, err = ids.SignIn(ctx, email, password)
	}
	return err
}

// readPassword reads without echo from a terminal, or a plain line otherwise.
func readPassword(in *bufio.Reader) (string, error) {
	fmt.Print("Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		return string(b), err
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// lines feeds stdin to a channel so the command loop can also watch its
// context. The channel closes at EOF.
func lines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

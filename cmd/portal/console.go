package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/mirror"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/presence"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/view"
)

// console prints live collection updates. Snapshots arrive complete, so it
// remembers what it already showed and prints only the difference.
type console struct {
	mu     sync.Mutex
	out    io.Writer
	render view.Options

	seenChat map[string]bool
	pending  int
	doubtIDs map[string]bool
	doubtsAt []mirror.Doubt
	onlineAt map[string]presence.Record
}

func newConsole(out io.Writer, render view.Options) *console {
	return &console{
		out:      out,
		render:   render,
		seenChat: make(map[string]bool),
		doubtIDs: make(map[string]bool),
		pending:  -1,
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// chat prints messages not shown before, oldest first.
func (c *console) chat(msgs []mirror.Message) {
	list := view.Chat(msgs, c.render)

	c.mu.Lock()
	defer c.mu.Unlock()
	if list.Count == 0 && len(c.seenChat) == 0 {
		fmt.Fprintln(c.out, list.Empty)
		return
	}
	for i := len(list.Items) - 1; i >= 0; i-- {
		line := list.Items[i]
		if c.seenChat[line.ID] {
			continue
		}
		c.seenChat[line.ID] = true
		fmt.Fprintf(c.out, "[%s] %s (%s): %s\n", line.Time, line.Sender, line.Badge, line.Content)
	}
}

// doubts reports new doubts and changes of the pending count.
func (c *console) doubts(items []mirror.Doubt) {
	list := view.DoubtItems(items, c.render)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.doubtsAt = items
	first := c.pending < 0
	for _, d := range list.Items {
		if !c.doubtIDs[d.ID] {
			c.doubtIDs[d.ID] = true
			if !first {
				fmt.Fprintf(c.out, "New doubt from %s: %s (id %s)\n", d.Student, d.Question, d.ID)
			}
		}
	}
	if list.Count != c.pending {
		c.pending = list.Count
		fmt.Fprintf(c.out, "Pending doubts: %d\n", list.Count)
	}
}

// online keeps the newest online mapping for /online.
func (c *console) online(m map[string]presence.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onlineAt = m
}

// subscriptionError reports a broken live view.
func (c *console) subscriptionError(q docstore.Query, err error, retrying bool) {
	if retrying {
		c.printf("Lost %s updates (%s), reconnecting...\n", q.Collection, apperr.UserMessage(err))
		return
	}
	c.printf("Stopped %s updates: %s\n", q.Collection, apperr.UserMessage(err))
}

func (c *console) printOnline() {
	list := view.Online(c.onlineSnapshot(), c.render)

	c.mu.Lock()
	defer c.mu.Unlock()
	if list.Count == 0 {
		fmt.Fprintln(c.out, list.Empty)
		return
	}
	names := make([]string, 0, len(list.Items))
	for _, u := range list.Items {
		name := u.Name
		if u.Teacher {
			name += " (" + view.BadgeTeacher + ")"
		}
		names = append(names, name)
	}
	fmt.Fprintf(c.out, "Online (%d): %s\n", list.Count, strings.Join(names, ", "))
}

func (c *console) onlineSnapshot() map[string]presence.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onlineAt
}

func (c *console) printDoubts() {
	c.mu.Lock()
	items := c.doubtsAt
	c.mu.Unlock()
	list := view.DoubtItems(items, c.render)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(list.Items) == 0 {
		fmt.Fprintln(c.out, list.Empty)
		return
	}
	for _, d := range list.Items {
		fmt.Fprintf(c.out, "%s  %s (%s): %s\n", d.ID, d.Student, d.Time, d.Question)
		if d.Waiting != "" {
			fmt.Fprintf(c.out, "    %s\n", d.Waiting)
		}
		for _, a := range d.Answers {
			fmt.Fprintf(c.out, "    %s: %s\n", a.By, a.Text)
		}
	}
}

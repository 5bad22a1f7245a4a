// Package view turns mirrored snapshots into display-ready structures. Every
// function is pure: same input, same output, no state.
package view

import (
	"net/url"
	"strings"
	"time"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/auth"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/mirror"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/normalize"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/presence"
)

// Empty-state texts.
const (
	EmptyChat      = "No messages yet. Start the conversation!"
	EmptyHomework  = "No homework assigned yet"
	EmptyResources = "No resources available yet"
	EmptyDoubts    = "No doubts yet. Be the first to ask!"
	EmptyOnline    = "No students online"

	NoDueDate        = "No due date"
	NoDescription    = "No description provided."
	WaitingForAnswer = "Waiting for teacher response..."
)

// Role badges.
const (
	BadgeTeacher = "teacher"
	BadgeStudent = "student"
)

const (
	timeLayout     = "15:04"
	dateLayout     = "Jan 2, 2006"
	dateTimeLayout = "Jan 2, 2006 15:04"
)

// Options control locale-dependent rendering.
type Options struct {
	// Location for rendered times; UTC when nil.
	Location *time.Location
	// TeacherEmail pins and badges the teacher in the online list.
	TeacherEmail string
}

func (o Options) format(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	loc := o.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(layout)
}

// List is a rendered snapshot. Empty holds the empty-state text when there are
// no items.
type List[T any] struct {
	Items []T    `json:"items"`
	Count int    `json:"count"`
	Empty string `json:"empty,omitempty"`
}

func newList[T any](items []T, count int, empty string) List[T] {
	l := List[T]{Items: items, Count: count}
	if len(items) == 0 {
		l.Items = []T{}
		l.Empty = empty
	}
	return l
}

// ChatLine is one rendered community message.
type ChatLine struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Badge   string `json:"badge"`
	Time    string `json:"time"`
	Content string `json:"content"`
}

// Chat renders messages in snapshot order.
func Chat(msgs []mirror.Message, o Options) List[ChatLine] {
	lines := make([]ChatLine, 0, len(msgs))
	for _, m := range msgs {
		badge := BadgeStudent
		if m.UserRole == auth.RoleTeacher {
			badge = BadgeTeacher
		}
		lines = append(lines, ChatLine{
			ID:      m.ID,
			Sender:  normalize.DisplayName(m.UserName, m.UserEmail),
			Badge:   badge,
			Time:    o.format(m.Timestamp, timeLayout),
			Content: m.Content,
		})
	}
	return newList(lines, len(lines), EmptyChat)
}

// HomeworkCard is one rendered assignment.
type HomeworkCard struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Due         string `json:"due"`
	AssignedBy  string `json:"assignedBy"`
}

// HomeworkCards renders assignments; Count is the total.
func HomeworkCards(items []mirror.Homework, o Options) List[HomeworkCard] {
	cards := make([]HomeworkCard, 0, len(items))
	for _, h := range items {
		due := NoDueDate
		if d, err := time.Parse("2006-01-02", h.DueDate); err == nil {
			due = d.Format(dateLayout)
		}
		by := h.TeacherName
		if by == "" {
			by = "Teacher"
		}
		cards = append(cards, HomeworkCard{
			ID:          h.ID,
			Title:       h.Title,
			Description: h.Description,
			Due:         due,
			AssignedBy:  by,
		})
	}
	return newList(cards, len(cards), EmptyHomework)
}

// Resource icons per type.
var resourceIcons = map[string]string{
	"pdf":          "file-pdf",
	"video":        "video",
	"worksheet":    "table",
	"presentation": "chart-bar",
	"other":        "file",
}

// ResourceCard is one rendered resource.
type ResourceCard struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Icon        string `json:"icon"`
	EmbedURL    string `json:"embedUrl"`
	OpenURL     string `json:"openUrl"`
}

// ResourceCards renders resources with an embeddable Drive preview link.
func ResourceCards(items []mirror.Resource, o Options) List[ResourceCard] {
	cards := make([]ResourceCard, 0, len(items))
	for _, r := range items {
		typ := r.Type
		icon, ok := resourceIcons[typ]
		if !ok {
			typ, icon = "other", resourceIcons["other"]
		}
		desc := r.Description
		if strings.TrimSpace(desc) == "" {
			desc = NoDescription
		}
		cards = append(cards, ResourceCard{
			ID:          r.ID,
			Title:       r.Title,
			Description: desc,
			Type:        strings.ToUpper(typ),
			Icon:        icon,
			EmbedURL:    DrivePreviewURL(r.Link),
			OpenURL:     r.Link,
		})
	}
	return newList(cards, len(cards), EmptyResources)
}

// DrivePreviewURL rewrites a Drive file link to its embeddable preview form.
// Links without a /file/d/<id> segment are returned unchanged.
func DrivePreviewURL(link string) string {
	const marker = "/file/d/"
	i := strings.Index(link, marker)
	if i < 0 {
		return link
	}
	id, _, _ := strings.Cut(link[i+len(marker):], "/")
	id, _, _ = strings.Cut(id, "?")
	if id == "" {
		return link
	}
	return "https://drive.google.com/file/d/" + url.PathEscape(id) + "/preview"
}

// AnswerLine is one rendered answer.
type AnswerLine struct {
	By   string `json:"by"`
	Text string `json:"text"`
	Date string `json:"date"`
}

// DoubtItem is one rendered doubt.
type DoubtItem struct {
	ID       string       `json:"id"`
	Student  string       `json:"student"`
	Time     string       `json:"time"`
	Question string       `json:"question"`
	Pending  bool         `json:"pending"`
	Answers  []AnswerLine `json:"answers"`
	Waiting  string       `json:"waiting,omitempty"`
}

// DoubtItems renders doubts; Count is the number still pending.
func DoubtItems(items []mirror.Doubt, o Options) List[DoubtItem] {
	out := make([]DoubtItem, 0, len(items))
	pending := 0
	for _, d := range items {
		item := DoubtItem{
			ID:       d.ID,
			Student:  d.StudentName,
			Time:     o.format(d.CreatedAt, dateTimeLayout),
			Question: d.Question,
			Pending:  d.Status == mirror.StatusPending,
			Answers:  make([]AnswerLine, 0, len(d.Answers)),
		}
		for _, a := range d.Answers {
			by := a.AnswererName
			if by == "" {
				by = "Teacher"
			}
			item.Answers = append(item.Answers, AnswerLine{By: by, Text: a.AnswerText, Date: o.format(a.AnsweredAt, dateLayout)})
		}
		if len(item.Answers) == 0 {
			item.Waiting = WaitingForAnswer
		}
		if item.Pending {
			pending++
		}
		out = append(out, item)
	}
	return newList(out, pending, EmptyDoubts)
}

// OnlineUser is one entry of the online list.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Initials string `json:"initials"`
	Teacher  bool   `json:"teacher"`
}

// Online renders the presence mapping in display order: teacher first, then
// by name.
func Online(online map[string]presence.Record, o Options) List[OnlineUser] {
	teacher := normalize.Email(o.TeacherEmail)
	sorted := presence.Sorted(online, o.TeacherEmail)
	out := make([]OnlineUser, 0, len(sorted))
	for _, r := range sorted {
		name := normalize.DisplayName(r.Name, r.Email)
		out = append(out, OnlineUser{
			UserID:   r.UserID,
			Name:     name,
			Email:    r.Email,
			Initials: normalize.Initials(name),
			Teacher:  teacher != "" && normalize.Email(r.Email) == teacher,
		})
	}
	return newList(out, len(out), EmptyOnline)
}

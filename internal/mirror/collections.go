package mirror

import (
	"context"
	"strings"
	"time"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/normalize"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/session"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/validate"
)

// DefaultCommunityLimit caps the chat mirror.
const DefaultCommunityLimit = 50

// Classroom collections, newest first.
var (
	CommunityCollection = Collection{Name: docstore.Community, OrderField: "timestamp", Limit: DefaultCommunityLimit}
	HomeworkCollection  = Collection{Name: docstore.Homework, OrderField: "createdAt"}
	ResourcesCollection = Collection{Name: docstore.Resources, OrderField: "createdAt"}
	DoubtsCollection    = Collection{Name: docstore.Doubts, OrderField: "createdAt"}
)

// Doubt states.
const (
	StatusPending  = "pending"
	StatusAnswered = "answered"
)

// ResourceTypes lists the accepted resource kinds.
var ResourceTypes = []string{"pdf", "video", "worksheet", "presentation", "other"}

// Message is a community chat message.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserEmail string    `json:"userEmail"`
	UserRole  string    `json:"userRole"`
	Content   string    `json:"content" validate:"notblank,maxbytes=4000"`
	Timestamp time.Time `json:"timestamp"`
}

// Homework is an assignment posted by the teacher.
type Homework struct {
	ID          string    `json:"id"`
	Title       string    `json:"title" validate:"notblank,maxbytes=200"`
	Description string    `json:"description" validate:"notblank,maxbytes=10000"`
	DueDate     string    `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	CreatedBy   string    `json:"createdBy"`
	TeacherName string    `json:"teacherName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Resource is a study resource hosted on Google Drive.
type Resource struct {
	ID          string    `json:"id"`
	Title       string    `json:"title" validate:"notblank,maxbytes=200"`
	Description string    `json:"description" validate:"maxbytes=10000"`
	Link        string    `json:"link" validate:"required,url,drivelink"`
	Type        string    `json:"type" validate:"oneof=pdf video worksheet presentation other"`
	CreatedBy   string    `json:"createdBy"`
	TeacherName string    `json:"teacherName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Doubt is a student question with its answers.
type Doubt struct {
	ID          string    `json:"id"`
	Question    string    `json:"question" validate:"notblank,maxbytes=4000"`
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	Status      string    `json:"status"`
	Answers     []Answer  `json:"answers"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Answer is one reply to a doubt.
type Answer struct {
	AnswererID   string    `json:"answererId"`
	AnswererName string    `json:"answererName"`
	AnswerText   string    `json:"answerText" validate:"notblank,maxbytes=4000"`
	AnsweredAt   time.Time `json:"answeredAt"`
}

func timeField(doc docstore.Document, field string) time.Time {
	t, _ := doc.Time(field)
	return t
}

// MessageFromDocument decodes a community document.
func MessageFromDocument(doc docstore.Document) Message {
	return Message{
		ID:        doc.ID,
		UserID:    doc.String("userId"),
		UserName:  doc.String("userName"),
		UserEmail: doc.String("userEmail"),
		UserRole:  doc.String("userRole"),
		Content:   doc.String("content"),
		Timestamp: timeField(doc, "timestamp"),
	}
}

// HomeworkFromDocument decodes a homework document.
func HomeworkFromDocument(doc docstore.Document) Homework {
	return Homework{
		ID:          doc.ID,
		Title:       doc.String("title"),
		Description: doc.String("description"),
		DueDate:     doc.String("dueDate"),
		CreatedBy:   doc.String("createdBy"),
		TeacherName: doc.String("teacherName"),
		CreatedAt:   timeField(doc, "createdAt"),
	}
}

// ResourceFromDocument decodes a resources document.
func ResourceFromDocument(doc docstore.Document) Resource {
	return Resource{
		ID:          doc.ID,
		Title:       doc.String("title"),
		Description: doc.String("description"),
		Link:        doc.String("link"),
		Type:        doc.String("type"),
		CreatedBy:   doc.String("createdBy"),
		TeacherName: doc.String("teacherName"),
		CreatedAt:   timeField(doc, "createdAt"),
	}
}

// DoubtFromDocument decodes a doubts document.
func DoubtFromDocument(doc docstore.Document) Doubt {
	d := Doubt{
		ID:          doc.ID,
		Question:    doc.String("question"),
		StudentID:   doc.String("studentId"),
		StudentName: doc.String("studentName"),
		Status:      doc.String("status"),
		CreatedAt:   timeField(doc, "createdAt"),
	}
	for _, raw := range doc.Slice("answers") {
		fields, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		a := docstore.Document{Fields: fields}
		d.Answers = append(d.Answers, Answer{
			AnswererID:   a.String("answererId"),
			AnswererName: a.String("answererName"),
			AnswerText:   a.String("answerText"),
			AnsweredAt:   timeField(a, "answeredAt"),
		})
	}
	return d
}

// Decode maps every document of a snapshot.
func Decode[T any](snap docstore.Snapshot, decode func(docstore.Document) T) []T {
	out := make([]T, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		out = append(out, decode(doc))
	}
	return out
}

// SubscribeTyped is Subscribe with decoded items.
func SubscribeTyped[T any](ctx context.Context, m *Mirror, c Collection, decode func(docstore.Document) T, fn func([]T)) (docstore.Unsubscribe, error) {
	return m.Subscribe(ctx, c.Query(), func(snap docstore.Snapshot) {
		fn(Decode(snap, decode))
	})
}

func requireSession(s session.Session) error {
	if s.UserID == "" {
		return apperr.Validation(nil, apperr.FieldError{Field: "session", Error: "a signed-in session is required"})
	}
	return nil
}

func authorName(s session.Session) string {
	return normalize.DisplayName(s.DisplayName, s.Email)
}

// PostMessage appends a chat message from s.
func (m *Mirror) PostMessage(ctx context.Context, s session.Session, content string) (string, error) {
	if err := requireSession(s); err != nil {
		return "", err
	}
	msg := Message{Content: strings.TrimSpace(content)}
	if err := validate.Struct(msg); err != nil {
		return "", err
	}
	return m.Append(ctx, CommunityCollection, map[string]any{
		"userId":    s.UserID,
		"userName":  authorName(s),
		"userEmail": s.Email,
		"userRole":  s.Role,
		"content":   msg.Content,
	})
}

// AssignHomework appends a homework entry. Only teachers may post.
func (m *Mirror) AssignHomework(ctx context.Context, s session.Session, h Homework) (string, error) {
	if err := requireSession(s); err != nil {
		return "", err
	}
	if err := validate.Struct(h); err != nil {
		return "", err
	}
	return m.Append(ctx, HomeworkCollection, map[string]any{
		"title":       strings.TrimSpace(h.Title),
		"description": strings.TrimSpace(h.Description),
		"dueDate":     h.DueDate,
		"createdBy":   s.UserID,
		"teacherName": authorName(s),
	})
}

// AddResource appends a Drive-hosted resource. Only teachers may post.
func (m *Mirror) AddResource(ctx context.Context, s session.Session, r Resource) (string, error) {
	if err := requireSession(s); err != nil {
		return "", err
	}
	if r.Type == "" {
		r.Type = "other"
	}
	if err := validate.Struct(r); err != nil {
		return "", err
	}
	return m.Append(ctx, ResourcesCollection, map[string]any{
		"title":       strings.TrimSpace(r.Title),
		"description": strings.TrimSpace(r.Description),
		"link":        strings.TrimSpace(r.Link),
		"type":        r.Type,
		"createdBy":   s.UserID,
		"teacherName": authorName(s),
	})
}

// AskDoubt appends a pending doubt from s.
func (m *Mirror) AskDoubt(ctx context.Context, s session.Session, question string) (string, error) {
	if err := requireSession(s); err != nil {
		return "", err
	}
	d := Doubt{Question: strings.TrimSpace(question)}
	if err := validate.Struct(d); err != nil {
		return "", err
	}
	return m.Append(ctx, DoubtsCollection, map[string]any{
		"question":    d.Question,
		"studentId":   s.UserID,
		"studentName": authorName(s),
		"status":      StatusPending,
		"answers":     []any{},
	})
}

// AppendAnswer adds an answer to a doubt with a single server-side list
// append, so concurrent answers never overwrite each other, and marks the
// doubt answered. A missing doubt yields a NotFoundError.
func (m *Mirror) AppendAnswer(ctx context.Context, doubtID string, a Answer) error {
	if strings.TrimSpace(doubtID) == "" {
		return apperr.Validation(nil, apperr.FieldError{Field: "doubtId", Error: "this field is required"})
	}
	a.AnswerText = strings.TrimSpace(a.AnswerText)
	if err := validate.Struct(a); err != nil {
		return err
	}
	err := m.store.Update(ctx, DoubtsCollection.Name, doubtID, map[string]any{
		"answers": docstore.Append(map[string]any{
			"answererId":   a.AnswererID,
			"answererName": a.AnswererName,
			"answerText":   a.AnswerText,
			"answeredAt":   docstore.ServerTimestamp(),
		}),
		"status": StatusAnswered,
	})
	return apperr.Write("append answer", err)
}

// AnswerDoubt appends an answer written by s.
func (m *Mirror) AnswerDoubt(ctx context.Context, s session.Session, doubtID, text string) error {
	if err := requireSession(s); err != nil {
		return err
	}
	return m.AppendAnswer(ctx, doubtID, Answer{
		AnswererID:   s.UserID,
		AnswererName: authorName(s),
		AnswerText:   text,
	})
}

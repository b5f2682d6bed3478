package notify

import (
	"fmt"
	"strings"
	"time"

	"devportal/internal/domain"
)

const (
	colorInfo    = "#439FE0"
	colorWarning = "#DAA038"
	colorSuccess = "good"
	footer       = "devportal"
)

type Message struct {
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Color     string  `json:"color,omitempty"`
	Title     string  `json:"title,omitempty"`
	TitleLink string  `json:"title_link,omitempty"`
	Text      string  `json:"text,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
	Footer    string  `json:"footer,omitempty"`
	Ts        int64   `json:"ts,omitempty"`
}

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func TaskCreated(t domain.Task, assigneeName string) Message {
	fields := []Field{
		{Title: "Status", Value: string(t.Status), Short: true},
		{Title: "Assignee", Value: orDash(assigneeName), Short: true},
	}
	if t.Priority != "" {
		fields = append(fields, Field{Title: "Priority", Value: t.Priority, Short: true})
	}
	if t.Deadline != "" {
		fields = append(fields, Field{Title: "Deadline", Value: t.Deadline, Short: true})
	}
	if len(t.Paths) > 0 {
		fields = append(fields, Field{Title: "Paths", Value: strings.Join(t.Paths, "\n")})
	}
	return Message{
		Text: fmt.Sprintf("New task created: *%s*", t.Title),
		Attachments: []Attachment{{
			Color:  colorInfo,
			Title:  t.Title,
			Text:   t.Description,
			Fields: fields,
			Footer: footer,
			Ts:     t.CreatedAt.Unix(),
		}},
	}
}

func TaskStarted(t domain.Task, developerName string, lease *domain.Lease) Message {
	fields := []Field{{Title: "Developer", Value: orDash(developerName), Short: true}}
	if lease != nil {
		fields = append(fields, Field{Title: "Lease expires", Value: lease.ExpiresAt.Format(time.RFC1123), Short: true})
	}
	return Message{
		Text: fmt.Sprintf("%s started *%s*", orDash(developerName), t.Title),
		Attachments: []Attachment{{
			Color:  colorWarning,
			Title:  t.Title,
			Fields: fields,
			Footer: footer,
			Ts:     startedAt(t).Unix(),
		}},
	}
}

func PRSubmitted(pr domain.PullRequest, t domain.Task, developerName string) Message {
	return Message{
		Text: fmt.Sprintf("Pull request submitted for *%s* by %s", t.Title, orDash(developerName)),
		Attachments: []Attachment{{
			Color:     colorInfo,
			Title:     orDash(pr.PRURL),
			TitleLink: pr.PRURL,
			Fields: []Field{
				{Title: "Task", Value: t.Title, Short: true},
				{Title: "CI", Value: string(pr.CIStatus), Short: true},
			},
			Footer: footer,
			Ts:     pr.CreatedAt.Unix(),
		}},
	}
}

func PRApproved(pr domain.PullRequest, t domain.Task, developerName string) Message {
	var ts int64
	if pr.MergedAt != nil {
		ts = pr.MergedAt.Unix()
	}
	return Message{
		Text: fmt.Sprintf("Pull request approved and merged: *%s*", t.Title),
		Attachments: []Attachment{{
			Color:     colorSuccess,
			Title:     orDash(pr.PRURL),
			TitleLink: pr.PRURL,
			Fields: []Field{
				{Title: "Author", Value: orDash(developerName), Short: true},
				{Title: "Task", Value: "done", Short: true},
			},
			Footer: footer,
			Ts:     ts,
		}},
	}
}

func TaskRequestSubmitted(req domain.TaskRequest, developerName string) Message {
	text := req.Description
	if req.Reasoning != "" {
		text = strings.TrimSpace(text + "\n_Why:_ " + req.Reasoning)
	}
	return Message{
		Text: fmt.Sprintf("%s requested a task: *%s*", orDash(developerName), req.Title),
		Attachments: []Attachment{{
			Color:  colorWarning,
			Title:  req.Title,
			Text:   text,
			Footer: footer,
			Ts:     req.CreatedAt.Unix(),
		}},
	}
}

// Text is a free-form message, optionally with one attachment.
func Text(text, title, color string) Message {
	m := Message{Text: text}
	if title != "" {
		m.Attachments = []Attachment{{Color: color, Title: title, Footer: footer}}
	}
	return m
}

func startedAt(t domain.Task) time.Time {
	if t.StartedAt != nil {
		return *t.StartedAt
	}
	return t.UpdatedAt
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

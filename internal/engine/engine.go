package engine

import (
	"context"
	"log"
	"strings"
	"time"

	"devportal/internal/config"
	"devportal/internal/domain"
	"devportal/internal/events"
	"devportal/internal/github"
	"devportal/internal/notify"
	"devportal/internal/repo"
	"devportal/internal/store"
)

// DefaultActor is recorded on activities when no caller identity is known.
const DefaultActor = "pm"

// Notifier queues outbound notifications; it must not block.
type Notifier interface {
	Enqueue(m notify.Message) bool
	Enabled() bool
}

// GitHub is the subset of the GitHub API the engine drives.
type GitHub interface {
	CreateBranch(ctx context.Context, owner, repo, branch, base string) error
	ListRepos(ctx context.Context) ([]github.Repository, error)
	ListBranches(ctx context.Context, owner, repo string) ([]github.Branch, error)
}

type Engine struct {
	Store    store.Store
	Events   events.Writer
	Config   *config.Config
	Notifier Notifier
	GitHub   GitHub
	Logger   *log.Logger
	Now      func() time.Time
}

func New(st store.Store, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Store:  st,
		Events: events.Writer{Now: time.Now},
		Config: cfg,
		Logger: log.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

func (e Engine) cfg() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

// update runs fn in one serialized write transaction.
func (e Engine) update(ctx context.Context, fn func(r repo.Repo) error) error {
	return e.Store.Update(ctx, func(tx store.Tx) error {
		return fn(repo.Repo{Tx: tx})
	})
}

func (e Engine) view(ctx context.Context, fn func(r repo.Repo) error) error {
	return e.Store.View(ctx, func(tx store.Tx) error {
		return fn(repo.Repo{Tx: tx})
	})
}

func (e Engine) writer() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) appendActivity(ctx context.Context, r repo.Repo, devs []domain.Developer, a domain.Activity) error {
	if a.ActorID == "" {
		a.ActorID = DefaultActor
	}
	if a.ActorName == "" {
		a.ActorName = developerName(devs, a.ActorID)
	}
	_, err := e.writer().Append(ctx, r, a)
	return err
}

func (e Engine) notify(m notify.Message) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Enqueue(m)
}

func actorOr(actor, fallback string) string {
	if strings.TrimSpace(actor) == "" {
		return fallback
	}
	return actor
}

func indexOf[T any](items []T, match func(T) bool) int {
	for i, it := range items {
		if match(it) {
			return i
		}
	}
	return -1
}

func findTask(tasks []domain.Task, id string) int {
	return indexOf(tasks, func(t domain.Task) bool { return t.ID == id })
}

func findDeveloper(devs []domain.Developer, id string) int {
	return indexOf(devs, func(d domain.Developer) bool { return d.ID == id })
}

func developerName(devs []domain.Developer, id string) string {
	if i := findDeveloper(devs, id); i >= 0 {
		return devs[i].Name
	}
	if id == DefaultActor {
		return "Project Manager"
	}
	return id
}

// setDeveloperWork marks a developer active on taskID, or idle when taskID is empty.
func setDeveloperWork(devs []domain.Developer, id, taskID string) bool {
	i := findDeveloper(devs, id)
	if i < 0 {
		return false
	}
	if taskID == "" {
		devs[i].Status = domain.DeveloperIdle
	} else {
		devs[i].Status = domain.DeveloperActive
	}
	devs[i].CurrentTask = taskID
	return true
}

// clearDeveloperWork idles the developer only if still working on taskID.
func clearDeveloperWork(devs []domain.Developer, id, taskID string) bool {
	i := findDeveloper(devs, id)
	if i < 0 || devs[i].CurrentTask != taskID {
		return false
	}
	return setDeveloperWork(devs, id, "")
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

package engine

import (
	"context"
	"strings"

	"devportal/internal/domain"
	"devportal/internal/notify"
	"devportal/internal/repo"
)

// InitDB seeds empty collections and the default roster once. It reports
// whether this call did the seeding.
func (e Engine) InitDB(ctx context.Context) (bool, error) {
	seeded := false
	err := e.update(ctx, func(r repo.Repo) error {
		at, err := r.Initialized(ctx)
		if err != nil {
			return err
		}
		if at != nil {
			return nil
		}
		for _, key := range repo.CollectionKeys {
			ok, err := r.Exists(ctx, key)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			if key == repo.KeyDevelopers {
				if err := r.SaveDevelopers(ctx, seedDevelopers(e.cfg().Developers)); err != nil {
					return err
				}
				continue
			}
			if err := r.Empty(ctx, key); err != nil {
				return err
			}
		}
		seeded = true
		return r.MarkInitialized(ctx, e.now())
	})
	return seeded, err
}

// ClearAll empties every collection except developers, who are set idle.
func (e Engine) ClearAll(ctx context.Context) error {
	return e.update(ctx, func(r repo.Repo) error {
		for _, key := range repo.CollectionKeys {
			if key == repo.KeyDevelopers {
				continue
			}
			if err := r.Empty(ctx, key); err != nil {
				return err
			}
		}
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		for i := range devs {
			devs[i].Status = domain.DeveloperIdle
			devs[i].CurrentTask = ""
		}
		return r.SaveDevelopers(ctx, devs)
	})
}

// Notify queues a free-form Slack message.
func (e Engine) Notify(text, title, color string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, domain.ValidationError{Field: "text", Reason: "is required"}
	}
	if e.Notifier == nil || !e.Notifier.Enabled() {
		return false, domain.UnavailableError{Service: "slack"}
	}
	return e.Notifier.Enqueue(notify.Text(text, title, color)), nil
}

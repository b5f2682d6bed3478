package engine

import (
	"context"
	"strings"

	"devportal/internal/config"
	"devportal/internal/domain"
	"devportal/internal/events"
	"devportal/internal/repo"
)

type DeveloperCreateOptions struct {
	ID      string
	Name    string
	Avatar  string
	ActorID string
}

func (e Engine) ListDevelopers(ctx context.Context) ([]domain.Developer, error) {
	var out []domain.Developer
	err := e.view(ctx, func(r repo.Repo) error {
		var err error
		out, err = r.Developers(ctx)
		return err
	})
	return out, err
}

func (e Engine) AddDeveloper(ctx context.Context, opts DeveloperCreateOptions) (domain.Developer, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Developer{}, domain.ValidationError{Field: "name", Reason: "is required"}
	}
	d := domain.Developer{
		ID:     strings.TrimSpace(opts.ID),
		Name:   name,
		Avatar: opts.Avatar,
		Status: domain.DeveloperIdle,
	}
	if d.ID == "" {
		d.ID = events.NewID("dev", e.now())
	}
	if d.Avatar == "" {
		d.Avatar = initials(name)
	}
	err := e.update(ctx, func(r repo.Repo) error {
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		if findDeveloper(devs, d.ID) >= 0 {
			return domain.ConflictError{Message: "developer " + d.ID + " already exists"}
		}
		devs = append(devs, d)
		if err := r.SaveDevelopers(ctx, devs); err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:     events.DeveloperAdded,
			ActorID:  actorOr(opts.ActorID, DefaultActor),
			Metadata: events.Payload{"developerId": d.ID, "name": d.Name},
		})
	})
	return d, err
}

// ResetDevelopers replaces the roster with the configured defaults.
func (e Engine) ResetDevelopers(ctx context.Context, actorID string) ([]domain.Developer, error) {
	devs := seedDevelopers(e.cfg().Developers)
	err := e.update(ctx, func(r repo.Repo) error {
		if err := r.SaveDevelopers(ctx, devs); err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:     events.DevelopersReset,
			ActorID:  actorOr(actorID, DefaultActor),
			Metadata: events.Payload{"count": len(devs)},
		})
	})
	return devs, err
}

func seedDevelopers(seeds []config.DeveloperSeed) []domain.Developer {
	out := make([]domain.Developer, 0, len(seeds))
	for _, s := range seeds {
		avatar := s.Avatar
		if avatar == "" {
			avatar = initials(s.Name)
		}
		out = append(out, domain.Developer{ID: s.ID, Name: s.Name, Avatar: avatar, Status: domain.DeveloperIdle})
	}
	return out
}

func initials(name string) string {
	var out []rune
	for _, part := range strings.Fields(name) {
		out = append(out, []rune(strings.ToUpper(part))[0])
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}

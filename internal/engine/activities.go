package engine

import (
	"context"
	"sort"
	"strings"

	"devportal/internal/domain"
	"devportal/internal/repo"
)

// ListActivities returns the log newest first; ties keep the later append first.
// A limit of zero or less returns everything.
func (e Engine) ListActivities(ctx context.Context, limit int) ([]domain.Activity, error) {
	var acts []domain.Activity
	err := e.view(ctx, func(r repo.Repo) error {
		var err error
		acts, err = r.Activities(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(acts)-1; i < j; i, j = i+1, j-1 {
		acts[i], acts[j] = acts[j], acts[i]
	}
	sort.SliceStable(acts, func(i, j int) bool { return acts[i].Timestamp.After(acts[j].Timestamp) })
	if limit > 0 && len(acts) > limit {
		acts = acts[:limit]
	}
	return acts, nil
}

// AddActivity appends a client-supplied record; id and timestamp are assigned here.
func (e Engine) AddActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	if strings.TrimSpace(a.Type) == "" {
		return domain.Activity{}, domain.ValidationError{Field: "type", Reason: "is required"}
	}
	a.ID = ""
	a.Timestamp = e.now()
	var out domain.Activity
	err := e.update(ctx, func(r repo.Repo) error {
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		if a.ActorID == "" {
			a.ActorID = DefaultActor
		}
		if a.ActorName == "" {
			a.ActorName = developerName(devs, a.ActorID)
		}
		out, err = e.writer().Append(ctx, r, a)
		return err
	})
	return out, err
}

package engine

import (
	"context"

	"devportal/internal/domain"
	"devportal/internal/github"
)

func (e Engine) ListRepos(ctx context.Context) ([]github.Repository, error) {
	if e.GitHub == nil {
		return nil, domain.UnavailableError{Service: "github"}
	}
	return e.GitHub.ListRepos(ctx)
}

func (e Engine) ListBranches(ctx context.Context, owner, repo string) ([]github.Branch, error) {
	if e.GitHub == nil {
		return nil, domain.UnavailableError{Service: "github"}
	}
	return e.GitHub.ListBranches(ctx, owner, repo)
}

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"devportal/internal/domain"
	"devportal/internal/engine"
)

func registerPRs(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-pr",
		Method:        http.MethodPost,
		Path:          "/prs/submit",
		Summary:       "Submit a pull request for review",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body PRSubmitRequest `json:"body"`
	}) (*bodyOutput[domain.PullRequest], error) {
		dev := input.Body.DeveloperID
		if dev != "" || authCfg.Enabled() {
			var err error
			if dev, err = actingDeveloper(ctx, authCfg, dev); err != nil {
				return nil, handleError(err)
			}
		}
		pr, err := e.SubmitPR(ctx, engine.PRSubmitOptions{
			TaskID:      input.Body.TaskID,
			PRURL:       input.Body.PRURL,
			DeveloperID: dev,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(pr), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-prs",
		Method:      http.MethodGet,
		Path:        "/prs",
		Summary:     "List pull requests with task and author details",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]engine.PullRequestView], error) {
		prs, err := e.ListPRs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(prs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-pr-checks",
		Method:      http.MethodPost,
		Path:        "/prs/{id}/checks",
		Summary:     "Record CI check results",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body PRChecksRequest `json:"body"`
	}) (*bodyOutput[domain.PullRequest], error) {
		checks := domain.PRChecks{Lint: input.Body.Lint, Typecheck: input.Body.Typecheck, Tests: input.Body.Tests}
		pr, err := e.UpdatePRChecks(ctx, input.ID, checks, input.Body.Final, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(pr), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-pr-changes",
		Method:      http.MethodPost,
		Path:        "/prs/{id}/request-changes",
		Summary:     "Send a pull request back to its author",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body *PRRequestChangesRequest `json:"body,omitempty"`
	}) (*bodyOutput[domain.PullRequest], error) {
		if err := requirePM(ctx, authCfg); err != nil {
			return nil, handleError(err)
		}
		notes := ""
		if input.Body != nil {
			notes = input.Body.Notes
		}
		pr, err := e.RequestChanges(ctx, input.ID, notes, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(pr), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-pr",
		Method:      http.MethodPost,
		Path:        "/prs/{id}/approve",
		Summary:     "Approve and merge a pull request",
		Description: "Marks the PR merged, completes its task and releases the task's lease and path locks.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.PullRequest], error) {
		if err := requirePM(ctx, authCfg); err != nil {
			return nil, handleError(err)
		}
		pr, err := e.ApprovePR(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(pr), nil
	})
}

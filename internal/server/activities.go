package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"devportal/internal/domain"
	"devportal/internal/engine"
	"devportal/internal/github"
)

func registerActivities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "List activities, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" doc:"Maximum number of records; 0 returns all"`
	}) (*bodyOutput[[]domain.Activity], error) {
		acts, err := e.ListActivities(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(acts), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-activity",
		Method:        http.MethodPost,
		Path:          "/activities",
		Summary:       "Append an activity record",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ActivityCreateRequest `json:"body"`
	}) (*bodyOutput[domain.Activity], error) {
		b := input.Body
		actor := b.ActorID
		if actor == "" {
			actor = actorID(ctx)
		}
		act, err := e.AddActivity(ctx, domain.Activity{
			Type:      b.Type,
			TaskID:    b.TaskID,
			TaskTitle: b.TaskTitle,
			ActorID:   actor,
			ActorName: b.ActorName,
			Metadata:  b.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(act), nil
	})
}

func registerIntegrations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "slack-notify",
		Method:        http.MethodPost,
		Path:          "/slack-notify",
		Summary:       "Queue a free-form Slack message",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body SlackNotifyRequest `json:"body"`
	}) (*bodyOutput[SlackNotifyResponse], error) {
		queued, err := e.Notify(input.Body.Text, input.Body.Title, input.Body.Color)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(SlackNotifyResponse{Queued: queued}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-github-repos",
		Method:      http.MethodGet,
		Path:        "/github/repos",
		Summary:     "List repositories visible to the configured token",
		Errors:      []int{http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]github.Repository], error) {
		repos, err := e.ListRepos(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(repos), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-github-branches",
		Method:      http.MethodGet,
		Path:        "/github/repos/{owner}/{repo}/branches",
		Summary:     "List branches of a repository",
		Errors:      []int{http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
		Repo  string `path:"repo"`
	}) (*bodyOutput[[]github.Branch], error) {
		branches, err := e.ListBranches(ctx, input.Owner, input.Repo)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(branches), nil
	})
}

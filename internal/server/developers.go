package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"devportal/internal/domain"
	"devportal/internal/engine"
)

func registerDevelopers(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "list-developers",
		Method:      http.MethodGet,
		Path:        "/developers",
		Summary:     "List developers",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Developer], error) {
		devs, err := e.ListDevelopers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(devs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-developer",
		Method:        http.MethodPost,
		Path:          "/developers",
		Summary:       "Add a developer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body DeveloperCreateRequest `json:"body"`
	}) (*bodyOutput[domain.Developer], error) {
		if err := requirePM(ctx, authCfg); err != nil {
			return nil, handleError(err)
		}
		dev, err := e.AddDeveloper(ctx, engine.DeveloperCreateOptions{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			Avatar:  input.Body.Avatar,
			ActorID: actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(dev), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-developers",
		Method:      http.MethodPost,
		Path:        "/developers/reset",
		Summary:     "Replace developers with the configured roster",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Developer], error) {
		if err := requirePM(ctx, authCfg); err != nil {
			return nil, handleError(err)
		}
		devs, err := e.ResetDevelopers(ctx, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(devs), nil
	})
}

func registerTaskRequests(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "list-task-requests",
		Method:      http.MethodGet,
		Path:        "/task-requests",
		Summary:     "List task requests",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"pending, approved or rejected"`
	}) (*bodyOutput[[]domain.TaskRequest], error) {
		reqs, err := e.ListTaskRequests(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(reqs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task-request",
		Method:        http.MethodPost,
		Path:          "/task-requests",
		Summary:       "Propose a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body TaskRequestCreateRequest `json:"body"`
	}) (*bodyOutput[domain.TaskRequest], error) {
		dev, err := actingDeveloper(ctx, authCfg, input.Body.DeveloperID)
		if err != nil {
			return nil, handleError(err)
		}
		req, err := e.CreateTaskRequest(ctx, engine.TaskRequestCreateOptions{
			DeveloperID:    dev,
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			Reasoning:      input.Body.Reasoning,
			SuggestedPaths: input.Body.SuggestedPaths,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task-request",
		Method:      http.MethodPatch,
		Path:        "/task-requests/{id}/approve",
		Summary:     "Approve a task request and create its task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body *TaskRequestReviewRequest `json:"body,omitempty"`
	}) (*bodyOutput[TaskRequestApprovalResponse], error) {
		if err := requirePM(ctx, authCfg); err != nil {
			return nil, handleError(err)
		}
		opts := engine.TaskRequestReviewOptions{ActorID: actorID(ctx)}
		if b := input.Body; b != nil {
			opts.ReviewNotes = b.ReviewNotes
			opts.Priority = b.Priority
			opts.Complexity = b.Complexity
			opts.Deadline = b.Deadline
		}
		req, task, err := e.ApproveTaskRequest(ctx, input.ID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(TaskRequestApprovalResponse{Request: req, Task: task}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-task-request",
		Method:      http.MethodPatch,
		Path:        "/task-requests/{id}/reject",
		Summary:     "Reject a task request",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body *TaskRequestReviewRequest `json:"body,omitempty"`
	}) (*bodyOutput[domain.TaskRequest], error) {
		if err := requirePM(ctx, authCfg); err != nil {
			return nil, handleError(err)
		}
		notes := ""
		if input.Body != nil {
			notes = input.Body.ReviewNotes
		}
		req, err := e.RejectTaskRequest(ctx, input.ID, notes, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(req), nil
	})
}

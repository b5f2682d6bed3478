package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"devportal/internal/domain"
	"devportal/internal/engine"
)

func registerTasks(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" doc:"Filter by status; pr is accepted for in-review"`
		Assignee string `query:"assignee"`
	}) (*bodyOutput[[]domain.Task], error) {
		tasks, err := e.ListTasks(ctx, engine.TaskFilter{Status: input.Status, Assignee: input.Assignee})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(tasks), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body TaskCreateRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		if err := requirePM(ctx, authCfg); err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		task, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Title:              b.Title,
			Description:        b.Description,
			Assignee:           b.Assignee,
			Status:             b.Status,
			Priority:           b.Priority,
			Paths:              b.Paths,
			Branch:             b.Branch,
			Repository:         b.Repository,
			Deadline:           b.Deadline,
			Complexity:         b.Complexity,
			AcceptanceCriteria: b.AcceptanceCriteria,
			ActorID:            actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.Task], error) {
		task, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task fields",
		Description: "Shallow merge of the fields present in the body. Status changes follow the task state machine unless force is set. Moving to done, ready or draft releases the task's lease and path locks. Paths cannot change while the task holds an active lease.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID    string            `path:"id"`
		Force bool              `query:"force" doc:"Skip the transition check (project managers only when auth is on)"`
		Body  TaskUpdateRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		if input.Force {
			if err := requirePM(ctx, authCfg); err != nil {
				return nil, handleError(err)
			}
		}
		b := input.Body
		task, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:                 input.ID,
			Title:              b.Title,
			Description:        b.Description,
			Assignee:           b.Assignee,
			Status:             b.Status,
			Priority:           b.Priority,
			Paths:              b.Paths,
			Branch:             b.Branch,
			Repository:         b.Repository,
			PRURL:              b.PRURL,
			Deadline:           b.Deadline,
			Complexity:         b.Complexity,
			AcceptanceCriteria: b.AcceptanceCriteria,
			ActorID:            actorID(ctx),
			Force:              input.Force,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete a task and release its lease",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[TaskDeleteResponse], error) {
		if err := requirePM(ctx, authCfg); err != nil {
			return nil, handleError(err)
		}
		task, err := e.DeleteTask(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(TaskDeleteResponse{ID: task.ID, Deleted: true}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/start",
		Summary:     "Start an assigned task",
		Description: "Moves the task to in-progress and leases its paths to the assignee.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body *TaskStartRequest `json:"body,omitempty"`
	}) (*bodyOutput[engine.TaskStartResult], error) {
		requested := ""
		if input.Body != nil {
			requested = input.Body.DeveloperID
		}
		dev, err := actingDeveloper(ctx, authCfg, requested)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.StartTask(ctx, input.ID, dev)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})
}

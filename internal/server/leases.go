package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"devportal/internal/domain"
	"devportal/internal/engine"
)

func registerLeases(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "list-leases",
		Method:      http.MethodGet,
		Path:        "/leases",
		Summary:     "List leases",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Lease], error) {
		leases, err := e.ListLeases(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(leases), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "claim-lease",
		Method:        http.MethodPost,
		Path:          "/leases/claim",
		Summary:       "Claim a lease on a task's paths",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body LeaseClaimRequest `json:"body"`
	}) (*bodyOutput[domain.Lease], error) {
		dev, err := actingDeveloper(ctx, authCfg, input.Body.DeveloperID)
		if err != nil {
			return nil, handleError(err)
		}
		lease, err := e.ClaimLease(ctx, engine.LeaseClaimOptions{
			TaskID:      input.Body.TaskID,
			DeveloperID: dev,
			Hours:       input.Body.Hours,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(lease), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extend-lease",
		Method:      http.MethodPost,
		Path:        "/leases/{id}/extend",
		Summary:     "Extend an active lease",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body LeaseExtendRequest `json:"body"`
	}) (*bodyOutput[domain.Lease], error) {
		lease, err := e.ExtendLease(ctx, input.ID, input.Body.Hours, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(lease), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-lease",
		Method:      http.MethodPost,
		Path:        "/leases/{id}/release",
		Summary:     "Release a lease and its path locks",
		Description: "Idempotent: releasing an already released lease returns it unchanged.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.Lease], error) {
		lease, err := e.ReleaseLease(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(lease), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-path-locks",
		Method:      http.MethodGet,
		Path:        "/path-locks",
		Summary:     "List path locks",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.PathLock], error) {
		locks, err := e.ListPathLocks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(locks), nil
	})
}

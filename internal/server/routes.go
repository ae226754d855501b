package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"dreamie/internal/bot"
	"dreamie/internal/domain"
	"dreamie/internal/engine"
)

var commonErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusServiceUnavailable,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type applicationOutput struct {
	Body ApplicationResponse `json:"body"`
}

type applicationListOutput struct {
	Body ApplicationList `json:"body"`
}

func registerApplications(api huma.API, b *bot.Bot) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-application",
		Method:        http.MethodPost,
		Path:          "/applications",
		Summary:       "File a new application as the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateApplicationRequest `json:"body"`
	}) (*applicationOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		who := principal.Requester()
		if name := strings.TrimSpace(input.Body.Name); name != "" {
			who.Name = name
		}
		if who.Name == "" {
			who.Name = who.AccountID
		}
		app, err := b.Submit(ctx, engine.CreateOptions{
			Requester:     who,
			Villager:      input.Body.Villager,
			Window:        domain.AvailabilityWindow(input.Body.Window),
			CanTimeTravel: input.Body.CanTimeTravel,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-applications",
		Method:      http.MethodGet,
		Path:        "/applications",
		Summary:     "Search applications (staff)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status"`
		Requester string `query:"requester" doc:"Requester account id"`
		Name      string `query:"name" doc:"Substring of the requester name, any case"`
		Villager  string `query:"villager"`
		Open      bool   `query:"open"`
	}) (*applicationListOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := engine.Filter{
			RequesterID: input.Requester,
			Name:        input.Name,
			Villager:    input.Villager,
			OpenOnly:    input.Open,
		}
		if input.Status != "" {
			st, err := domain.ParseStatus(input.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_query", err.Error(), map[string]any{"status": input.Status})
			}
			f.Status = st
		}
		apps, err := b.Find(ctx, principal.Actor(), f)
		if err != nil {
			return nil, handleError(err)
		}
		return &applicationListOutput{Body: ApplicationList{Items: mapApplications(apps)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-applications",
		Method:      http.MethodGet,
		Path:        "/applications/mine",
		Summary:     "The caller's open applications",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*applicationListOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		apps, err := b.Status(ctx, principal.Requester())
		if err != nil {
			return nil, handleError(err)
		}
		return &applicationListOutput{Body: ApplicationList{Items: mapApplications(apps)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/applications/{id}",
		Summary:     "Get one application (owner or staff)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*applicationOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		app, err := b.View(ctx, principal.Actor(), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "application-action",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/{action}",
		Summary:     "Apply a lifecycle action",
		Description: "Actions: approve, deny, claim, find, closeOut, markReady, cancel. The chat aliases review, found, close and ready are accepted too.",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID     string         `path:"id"`
		Action string         `path:"action"`
		Body   *ActionRequest `json:"body,omitempty" required:"false"`
	}) (*applicationOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		action, err := domain.ParseAction(input.Action)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "unknown_action", err.Error(), map[string]any{"action": input.Action})
		}
		force := input.Body != nil && input.Body.Force
		app, err := b.Act(ctx, principal.Actor(), input.ID, action, force)
		if err != nil {
			return nil, handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-application",
		Method:      http.MethodPut,
		Path:        "/applications/{id}/archive",
		Summary:     "Hide or show the sheet row of an application (staff)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ArchiveRequest `json:"body"`
	}) (*applicationOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		app, err := b.Archive(ctx, principal.Actor(), input.ID, input.Body.Hidden)
		if err != nil {
			return nil, handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app)}, nil
	})
}

func registerSummary(api huma.API, b *bot.Bot) {
	huma.Register(api, huma.Operation{
		OperationID: "summary",
		Method:      http.MethodGet,
		Path:        "/summary",
		Summary:     "Counts per status (staff)",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := b.Summary(ctx, principal.Actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: summaryResponse(s)}, nil
	})
}

type lockOutput struct {
	Body LockResponse `json:"body"`
}

func registerQueue(api huma.API, b *bot.Bot) {
	huma.Register(api, huma.Operation{
		OperationID: "get-queue-lock",
		Method:      http.MethodGet,
		Path:        "/queue/lock",
		Summary:     "Whether new applications are refused",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*lockOutput, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		locked, err := b.Engine.Locked(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &lockOutput{Body: LockResponse{Locked: locked}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-queue-lock",
		Method:      http.MethodPut,
		Path:        "/queue/lock",
		Summary:     "Lock or unlock intake (staff)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Body LockRequest `json:"body"`
	}) (*lockOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := b.SetLock(ctx, principal.Actor(), input.Body.Locked); err != nil {
			return nil, handleError(err)
		}
		return &lockOutput{Body: LockResponse{Locked: input.Body.Locked}}, nil
	})
}

func registerEvents(api huma.API, b *bot.Bot) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit log (staff)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		After string `query:"after" doc:"Return events with a larger id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var after int64
		if input.After != "" {
			parsed, err := strconv.ParseInt(input.After, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"after": input.After})
			}
			after = parsed
		}
		items, err := b.Events(ctx, principal.Actor(), after, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerStaff(api huma.API, b *bot.Bot) {
	huma.Register(api, huma.Operation{
		OperationID: "list-staff",
		Method:      http.MethodGet,
		Path:        "/staff",
		Summary:     "Runtime staff roster (staff)",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StaffList `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		members, err := b.Roster(ctx, principal.Actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StaffList `json:"body"`
		}{Body: StaffList{Items: nonNilSlice(members)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "grant-staff",
		Method:        http.MethodPost,
		Path:          "/staff",
		Summary:       "Grant staff (staff)",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body GrantStaffRequest `json:"body"`
	}) (*struct {
		Body domain.StaffMember `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := b.Engine.GrantStaff(ctx, principal.Actor(), input.Body.AccountID, input.Body.Handle)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StaffMember `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-staff",
		Method:        http.MethodDelete,
		Path:          "/staff/{account_id}",
		Summary:       "Revoke staff (staff)",
		DefaultStatus: http.StatusNoContent,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := b.Engine.RevokeStaff(ctx, principal.Actor(), input.AccountID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAPIKeys(api huma.API, b *bot.Bot) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plain, err := b.Engine.CreateAPIKey(ctx, principal.Actor(), input.Body.AccountID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		res := apiKeyResponse(key)
		res.Key = plain
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List the caller's API keys, or all of them for staff",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		All bool `query:"all"`
	}) (*struct {
		Body APIKeyList `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := b.Engine.APIKeys(ctx, principal.Actor(), input.All)
		if err != nil {
			return nil, handleError(err)
		}
		out := APIKeyList{Items: []APIKeyResponse{}}
		for _, k := range keys {
			out.Items = append(out.Items, apiKeyResponse(k))
		}
		return &struct {
			Body APIKeyList `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := b.Engine.RevokeAPIKey(ctx, principal.Actor(), input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, b *bot.Bot) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actor, err := b.Engine.ResolveActor(ctx, principal.Actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{
			AccountID: actor.AccountID,
			Name:      actor.Name,
			Staff:     actor.Staff,
			Source:    principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		account := strings.TrimSpace(input.Body.AccountID)
		if account == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account_id is required", nil)
		}
		token, err := signToken(authCfg.JWTSecret, account, strings.TrimSpace(input.Body.Name), 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

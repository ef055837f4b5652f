// Package updates exposes the scheduled update workflow over HTTP. The
// mutating routes expect a single-use action token bound to the item id plus
// the matching capability from the host.
package updates

import (
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/openpress/revisor/internal/nonce"
	"github.com/openpress/revisor/pkg/merging"
	"github.com/openpress/revisor/pkg/report"
	"github.com/openpress/revisor/pkg/staging"
	"github.com/openpress/revisor/pkg/store"
)

const (
	ActionStage   = "stage"
	ActionPublish = "publish"

	capabilityEdit    = "edit"
	capabilityPublish = "publish"
)

// Register registers the update workflow routes.
func Register(g *echo.Group) {
	g.POST("/token", IssueToken)
	g.POST("/stage", StageItem)
	g.POST("/:id/publish", PublishNow)
	g.PUT("/:id/schedule", SetSchedule)
	g.DELETE("/:id/schedule", ClearSchedule)
	g.PUT("/:id/keep-dates", SetKeepDates)
	g.GET("/pending", ListPending)
}

// TokenRequest asks for a single-use token for one action on one item.
type TokenRequest struct {
	Action string `json:"action" validate:"required,oneof=stage publish"`
	ItemID string `json:"item_id" validate:"required"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// IssueToken hands out a single-use token for a later stage or publish call.
func IssueToken(c echo.Context) error {
	ctx := c.Request().Context()

	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := requireCapability(c, capabilityForAction(req.Action)); err != nil {
		return err
	}

	ctx, tokens, err := ectoinject.GetContext[*nonce.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	token, err := tokens.Issue(ctx, req.Action, req.ItemID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TokenResponse{Token: token})
}

// StageRequest creates a staged working copy of the item.
type StageRequest struct {
	ItemID string `json:"item_id" validate:"required"`
	Token  string `json:"token" validate:"required"`
}

type StageResponse struct {
	StagedID string `json:"staged_id"`
}

// StageItem creates a staged working copy.
func StageItem(c echo.Context) error {
	ctx := c.Request().Context()

	var req StageRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := requireCapability(c, capabilityEdit); err != nil {
		return err
	}
	ctx, err := consumeToken(ctx, req.Token, ActionStage, req.ItemID)
	if err != nil {
		return err
	}

	ctx, manager, err := ectoinject.GetContext[*staging.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	stagedID, err := manager.Stage(ctx, req.ItemID)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusCreated, StageResponse{StagedID: stagedID})
}

// PublishRequest triggers an immediate merge of a staged item.
type PublishRequest struct {
	Token string `json:"token" validate:"required"`
}

type PublishResponse struct {
	OriginalID string `json:"original_id"`
}

// PublishNow merges the staged item into its original immediately.
func PublishNow(c echo.Context) error {
	ctx := c.Request().Context()
	stagedID := c.Param("id")

	var req PublishRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := requireCapability(c, capabilityPublish); err != nil {
		return err
	}
	ctx, err := consumeToken(ctx, req.Token, ActionPublish, stagedID)
	if err != nil {
		return err
	}

	ctx, engine, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	originalID, err := engine.Merge(ctx, stagedID)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, PublishResponse{OriginalID: originalID})
}

// ScheduleRequest sets the release timestamp of a staged item.
type ScheduleRequest struct {
	ReleaseAt time.Time `json:"release_at" validate:"required"`
}

type ScheduleResponse struct {
	ReleaseAt time.Time `json:"release_at"`
}

// SetSchedule stores the release timestamp and arms the merge timer.
func SetSchedule(c echo.Context) error {
	ctx := c.Request().Context()
	stagedID := c.Param("id")

	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := requireCapability(c, capabilityEdit); err != nil {
		return err
	}

	ctx, manager, err := ectoinject.GetContext[*staging.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	applied, err := manager.SetReleaseDate(ctx, stagedID, req.ReleaseAt)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, ScheduleResponse{ReleaseAt: applied})
}

// ClearSchedule removes the release timestamp and cancels the timer.
func ClearSchedule(c echo.Context) error {
	ctx := c.Request().Context()
	stagedID := c.Param("id")

	if err := requireCapability(c, capabilityEdit); err != nil {
		return err
	}

	ctx, manager, err := ectoinject.GetContext[*staging.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := manager.ClearReleaseDate(ctx, stagedID); err != nil {
		return mapDomainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// KeepDatesRequest sets whether the original keeps its creation timestamps
// through the merge.
type KeepDatesRequest struct {
	Keep bool `json:"keep"`
}

// SetKeepDates stores the keep-dates preference on a staged item.
func SetKeepDates(c echo.Context) error {
	ctx := c.Request().Context()
	stagedID := c.Param("id")

	var req KeepDatesRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := requireCapability(c, capabilityEdit); err != nil {
		return err
	}

	ctx, manager, err := ectoinject.GetContext[*staging.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := manager.SetKeepDates(ctx, stagedID, req.Keep); err != nil {
		return mapDomainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListPending returns the operator status report of pending updates.
func ListPending(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*report.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	rows, err := svc.ListPending(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rows)
}

func capabilityForAction(action string) string {
	if action == ActionPublish {
		return capabilityPublish
	}
	return capabilityEdit
}

func mapDomainError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return httperror.NewHTTPError(http.StatusNotFound, "item not found")
	case errors.Is(err, staging.ErrTypeExcluded):
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, "content type is excluded from scheduled updates")
	case errors.Is(err, staging.ErrNoOriginal), errors.Is(err, merging.ErrNoOriginal):
		return httperror.NewHTTPError(http.StatusConflict, "staged item has no original reference")
	case errors.Is(err, merging.ErrOriginalMissing):
		return httperror.NewHTTPError(http.StatusConflict, "original item no longer exists")
	case errors.Is(err, merging.ErrOriginalTrashed):
		return httperror.NewHTTPError(http.StatusConflict, "original item is in the trash")
	case errors.Is(err, merging.ErrAlreadyInProgress):
		return httperror.NewHTTPError(http.StatusConflict, "a merge for this item is already in progress")
	}
	return err
}

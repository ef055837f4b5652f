// Package lifecycle receives status-transition notifications from the host
// and feeds them to the guard.
package lifecycle

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	guardpkg "github.com/openpress/revisor/pkg/lifecycle"
)

// Register registers the transition notification route.
func Register(g *echo.Group) {
	g.POST("/:id/transition", NotifyTransition)
}

// TransitionRequest reports one status transition the host already applied.
type TransitionRequest struct {
	OldStatus string `json:"old_status" validate:"required"`
	NewStatus string `json:"new_status" validate:"required"`
}

// NotifyTransition runs the guard over a host-side status change.
func NotifyTransition(c echo.Context) error {
	ctx := c.Request().Context()
	itemID := c.Param("id")

	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, guard, err := ectoinject.GetContext[*guardpkg.Guard](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := guard.OnTransition(ctx, itemID, req.OldStatus, req.NewStatus); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

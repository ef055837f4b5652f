package updates

import (
	"context"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/openpress/revisor/internal/nonce"
)

// CapabilityChecker reads the caller's capabilities from the header the host
// forwards them in.
type CapabilityChecker struct {
	Header string
}

func NewCapabilityChecker(header string) *CapabilityChecker {
	if header == "" {
		header = "X-Capabilities"
	}
	return &CapabilityChecker{Header: header}
}

func (cc *CapabilityChecker) Has(c echo.Context, capability string) bool {
	raw := c.Request().Header.Get(cc.Header)
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == capability {
			return true
		}
	}
	return false
}

func requireCapability(c echo.Context, capability string) error {
	_, checker, err := ectoinject.GetContext[*CapabilityChecker](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	if !checker.Has(c, capability) {
		return httperror.NewHTTPError(http.StatusForbidden, "missing capability: "+capability)
	}
	return nil
}

func consumeToken(ctx context.Context, token string, action string, itemID string) (context.Context, error) {
	ctx, tokens, err := ectoinject.GetContext[*nonce.Service](ctx)
	if err != nil {
		return ctx, httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	if err := tokens.Consume(ctx, token, action, itemID); err != nil {
		return ctx, httperror.NewHTTPError(http.StatusForbidden, "invalid or expired action token")
	}
	return ctx, nil
}

package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"sentinal/internal/model"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// classifyError maps Gmail client failures onto the application error kinds.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrGatewayUnavailable, err)
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrCredentialExpired, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w: %w", op, model.ErrCredentialExpired, err)
	}
	if errors.Is(err, model.ErrCredentialMissing) || errors.Is(err, model.ErrCredentialExpired) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrGatewayUnavailable, err)
}

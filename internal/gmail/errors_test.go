package gmail

import (
	"context"
	"errors"
	"testing"

	"sentinal/internal/model"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &googleapi.Error{Code: 401, Message: "Invalid Credentials"}, model.ErrCredentialExpired},
		{"refresh failed", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, model.ErrCredentialExpired},
		{"server error", &googleapi.Error{Code: 503}, model.ErrGatewayUnavailable},
		{"rate limited", &googleapi.Error{Code: 429}, model.ErrGatewayUnavailable},
		{"network", errors.New("dial tcp: no such host"), model.ErrGatewayUnavailable},
		{"timeout", context.DeadlineExceeded, model.ErrGatewayUnavailable},
		{"missing", model.ErrCredentialMissing, model.ErrCredentialMissing},
	}
	for _, tc := range tests {
		got := classifyError("op", tc.err)
		if !errors.Is(got, tc.want) {
			t.Errorf("%s: classifyError = %v; want kind %v", tc.name, got, tc.want)
		}
		if !errors.Is(got, tc.err) {
			t.Errorf("%s: cause lost from %v", tc.name, got)
		}
	}
	if classifyError("op", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

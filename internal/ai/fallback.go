package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
)

// FallbackProvider tries the primary provider and switches to the secondary on
// connection or quota failures.
type FallbackProvider struct {
	primary   Provider
	secondary Provider
}

func NewFallbackProvider(primary, secondary Provider) *FallbackProvider {
	return &FallbackProvider{primary: primary, secondary: secondary}
}

func (f *FallbackProvider) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *FallbackProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	out, err := f.primary.Generate(ctx, prompt, opts)
	if err == nil {
		return out, nil
	}
	switch {
	case isQuotaError(err):
		log.Printf("[AI] %s quota exhausted: %v, falling back to %s", f.primary.Name(), err, f.secondary.Name())
	case isConnectionError(err):
		log.Printf("[AI] %s connection failed: %v, falling back to %s", f.primary.Name(), err, f.secondary.Name())
	default:
		return "", err
	}
	out, err2 := f.secondary.Generate(ctx, prompt, opts)
	if err2 != nil {
		return "", fmt.Errorf("%s: %w", f.secondary.Name(), err2)
	}
	return out, nil
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return containsAny(err.Error(),
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"EOF",
	)
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(),
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"RESOURCE_EXHAUSTED",
	)
}

func containsAny(s string, indicators ...string) bool {
	s = strings.ToLower(s)
	for _, ind := range indicators {
		if strings.Contains(s, strings.ToLower(ind)) {
			return true
		}
	}
	return false
}

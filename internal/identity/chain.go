package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ResultFunc observes the outcome of one verification path ("primary" or "fallback").
type ResultFunc func(path string, err error)

// ChainVerifier tries the primary verifier and, only if it fails, the
// fallback exactly once with the same credential.
type ChainVerifier struct {
	primary  Verifier
	fallback Verifier
	log      *zap.Logger
	observe  ResultFunc
}

func NewChainVerifier(primary, fallback Verifier, logger *zap.Logger, observe ResultFunc) *ChainVerifier {
	if observe == nil {
		observe = func(string, error) {}
	}
	return &ChainVerifier{primary: primary, fallback: fallback, log: logger, observe: observe}
}

func (c *ChainVerifier) Verify(ctx context.Context, bearer string) (*ExternalIdentity, error) {
	if bearer == "" {
		return nil, ErrInvalidToken
	}

	id, primaryErr := c.primary.Verify(ctx, bearer)
	c.observe("primary", primaryErr)
	if primaryErr == nil {
		return id, nil
	}
	c.log.Warn("primary identity verification failed, trying fallback", zap.Error(primaryErr))

	if c.fallback == nil {
		return nil, fmt.Errorf("%w: primary: %v", ErrUnavailable, primaryErr)
	}
	id, fallbackErr := c.fallback.Verify(ctx, bearer)
	c.observe("fallback", fallbackErr)
	if fallbackErr == nil {
		return id, nil
	}
	return nil, fmt.Errorf("%w: primary: %v; fallback: %v", ErrUnavailable, primaryErr, fallbackErr)
}

package service

import (
	"context"
	"errors"
)

// ProfileChain implements ProfileResolver by trying multiple resolvers
// in order. Used to layer a cache in front of the remote resolver.
type ProfileChain struct {
	resolvers []ProfileResolver
}

// NewProfileChain creates a new profile chain.
func NewProfileChain(resolvers ...ProfileResolver) *ProfileChain {
	return &ProfileChain{resolvers: resolvers}
}

// ResolveProfile tries each resolver until one returns a definition.
// Not-found results and errors both fall through to the next resolver;
// (nil, nil) is returned when every resolver comes up empty.
func (c *ProfileChain) ResolveProfile(ctx context.Context, url string) (*StructureDefinition, error) {
	for _, r := range c.resolvers {
		sd, err := r.ResolveProfile(ctx, url)
		if err == nil && sd != nil {
			return sd, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			// A hard resolver failure still lets later resolvers try.
			continue
		}
	}
	return nil, nil
}

// Add appends a resolver to the chain.
func (c *ProfileChain) Add(r ProfileResolver) {
	c.resolvers = append(c.resolvers, r)
}

// CodeChain implements CodeValidator by trying multiple validators.
type CodeChain struct {
	validators []CodeValidator
}

// NewCodeChain creates a new code validation chain.
func NewCodeChain(validators ...CodeValidator) *CodeChain {
	return &CodeChain{validators: validators}
}

// ValidateCode asks each validator in turn. The first definite answer
// wins; errors make the check fall through. If no validator can answer,
// the last error is returned so the caller can treat the result as
// indeterminate.
func (c *CodeChain) ValidateCode(ctx context.Context, system, code string) (bool, error) {
	var lastErr error
	for _, v := range c.validators {
		ok, err := v.ValidateCode(ctx, system, code)
		if err == nil {
			return ok, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no code validators configured")
	}
	return false, lastErr
}

package reel

import (
	"context"
	"fmt"
)

// Authenticator reports the signed-in user for mutating calls.
type Authenticator interface {
	CurrentUser(ctx context.Context) (userID string, ok bool)
}

// StaticAuthenticator always reports the same user. The empty value is signed out.
type StaticAuthenticator string

func (a StaticAuthenticator) CurrentUser(context.Context) (string, bool) {
	return string(a), a != ""
}

type userKey struct{}

// WithUser returns a context carrying userID for ContextAuthenticator.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// ContextAuthenticator reads the user stored by WithUser.
type ContextAuthenticator struct{}

func (ContextAuthenticator) CurrentUser(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(userKey{}).(string)
	return id, id != ""
}

// requireUser returns the signed-in user or ErrAuthenticationRequired.
func requireUser(ctx context.Context, auth Authenticator) (string, error) {
	if auth == nil {
		return "", ErrAuthenticationRequired
	}
	id, ok := auth.CurrentUser(ctx)
	if !ok {
		return "", ErrAuthenticationRequired
	}
	return id, nil
}

// requireOwner checks that the signed-in user owns video.
func requireOwner(ctx context.Context, auth Authenticator, video *Video) error {
	id, err := requireUser(ctx, auth)
	if err != nil {
		return err
	}
	if id != video.UserID {
		return fmt.Errorf("%w: video %s", ErrNotOwner, video.ID)
	}
	return nil
}

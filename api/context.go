package api

import (
	"context"
	"errors"

	"github.com/rpupo63/blog-backend/services"
)

type keyType string

const ownerKey keyType = "owner"

// ctxWithOwner adds the authenticated owner to the context
func ctxWithOwner(ctx context.Context, owner services.Owner) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// ctxGetOwner retrieves the authenticated owner from the context
func ctxGetOwner(ctx context.Context) (services.Owner, error) {
	owner, ok := ctx.Value(ownerKey).(services.Owner)
	if !ok {
		return services.Owner{}, errors.New("owner not found in context")
	}
	return owner, nil
}

package services

import "context"

type actorKey struct{}

// WithActor tags ctx with the id recorded as the actor in audit rows.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func actorFrom(ctx context.Context) string {
	actorID, _ := ctx.Value(actorKey{}).(string)
	return actorID
}

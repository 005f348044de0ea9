package shared

import "context"

// Actor identifies the authenticated caller and the clinic it acts for.
type Actor struct {
	UserID   int64
	ClinicID int64
	Role     string
}

// HasRole reports whether the actor holds any of roles.
func (a Actor) HasRole(roles ...string) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// Roles carried in bearer tokens.
const (
	RoleAdmin      = "admin"
	RolePharmacist = "pharmacist"
	RoleStaff      = "staff"
)

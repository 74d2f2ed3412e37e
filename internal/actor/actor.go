// Package actor carries the "acting as" identity every repository query is
// scoped by.
package actor

import (
	"context"
	"fmt"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

type Kind int

const (
	// KindGuest may only see links without an owner
	KindGuest Kind = iota
	// KindOwner sees the links of one owner
	KindOwner
	// KindAdmin is unrestricted
	KindAdmin
	// KindSystem is unrestricted and used by background jobs
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindGuest:
		return "guest"
	case KindOwner:
		return "owner"
	case KindAdmin:
		return "admin"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Actor identifies who a repository call is made on behalf of
type Actor struct {
	Kind    Kind
	OwnerID uuid.UUID
}

func Guest() Actor             { return Actor{Kind: KindGuest} }
func Owner(id uuid.UUID) Actor { return Actor{Kind: KindOwner, OwnerID: id} }
func Admin() Actor             { return Actor{Kind: KindAdmin} }
func System() Actor            { return Actor{Kind: KindSystem} }

// Unrestricted reports whether the actor bypasses owner scoping
func (a Actor) Unrestricted() bool {
	return a.Kind == KindAdmin || a.Kind == KindSystem
}

// Owns returns the owner id new links created by this actor belong to.
// Unrestricted actors and guests create guest links.
func (a Actor) Owns() *uuid.UUID {
	if a.Kind != KindOwner {
		return nil
	}
	id := a.OwnerID
	return &id
}

// CanAccess reports whether a record owned by owner is visible to the actor
func (a Actor) CanAccess(owner *uuid.UUID) bool {
	switch a.Kind {
	case KindAdmin, KindSystem:
		return true
	case KindOwner:
		return owner != nil && *owner == a.OwnerID
	default:
		return owner == nil
	}
}

// Scope returns an SQL predicate restricting column to the actor's records.
// argPos is the positional parameter number the predicate may bind.
func (a Actor) Scope(column string, argPos int) (string, []interface{}) {
	switch a.Kind {
	case KindAdmin, KindSystem:
		return "TRUE", nil
	case KindOwner:
		return fmt.Sprintf("%s = $%d", column, argPos), []interface{}{a.OwnerID}
	default:
		return column + " IS NULL", nil
	}
}

func (a Actor) String() string {
	if a.Kind == KindOwner {
		return fmt.Sprintf("owner:%s", a.OwnerID)
	}
	return a.Kind.String()
}

// FromContext derives the actor from verified JWT claims. Requests without
// a token act as guests.
func FromContext(ctx context.Context) Actor {
	_, claims, err := jwtauth.FromContext(ctx)
	if err != nil || claims == nil {
		return Guest()
	}
	return fromClaims(claims)
}

func fromClaims(claims map[string]interface{}) Actor {
	if role, _ := claims["role"].(string); role == "admin" {
		return Admin()
	}

	userID, _ := claims["user_id"].(string)
	id, err := uuid.Parse(userID)
	if err != nil {
		return Guest()
	}
	return Owner(id)
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/repository"
)

type contextKey string

const (
	// ContextKeyActor is the key for storing the actor in request context.
	ContextKeyActor contextKey = "actor"
)

// Request headers carrying the caller identity. Identity is propagated by an
// upstream gateway and not verified here.
const (
	HeaderPersonID = "X-Person-ID"
	HeaderActAs    = "X-Act-As-Role"
)

// ActorMiddleware resolves the calling person into a domain.Actor.
type ActorMiddleware struct {
	personRepo *repository.PersonRepository
}

// NewActorMiddleware creates a new ActorMiddleware.
func NewActorMiddleware(personRepo *repository.PersonRepository) *ActorMiddleware {
	return &ActorMiddleware{
		personRepo: personRepo,
	}
}

// Resolve loads the person named by X-Person-ID and stores the actor in the
// request context. Administrators may pass X-Act-As-Role to act with a
// lower role.
func (m *ActorMiddleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		personID := strings.TrimSpace(r.Header.Get(HeaderPersonID))
		if personID == "" {
			http.Error(w, "missing "+HeaderPersonID+" header", http.StatusUnauthorized)
			return
		}

		if _, err := uuid.Parse(personID); err != nil {
			http.Error(w, HeaderPersonID+" must be a valid UUID", http.StatusUnauthorized)
			return
		}

		person, err := m.personRepo.GetByID(r.Context(), personID)
		if err != nil {
			if errors.Is(err, domain.ErrPersonNotFound) {
				http.Error(w, "unknown person", http.StatusUnauthorized)
				return
			}
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if !person.IsActive {
			http.Error(w, "person inactive", http.StatusUnauthorized)
			return
		}

		actor := domain.Actor{PersonID: person.ID, Role: person.Role}

		if actAs := strings.TrimSpace(r.Header.Get(HeaderActAs)); actAs != "" {
			role := domain.Role(strings.ToLower(actAs))
			if !role.IsValid() {
				http.Error(w, "invalid "+HeaderActAs+" header", http.StatusBadRequest)
				return
			}
			if person.Role != domain.RoleAdmin && role != person.Role {
				http.Error(w, "only administrators may act as another role", http.StatusForbidden)
				return
			}
			actor.Role = role
		}

		ctx := WithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext retrieves the resolved actor from request context.
func ActorFromContext(ctx context.Context) (domain.Actor, error) {
	actor, ok := ctx.Value(ContextKeyActor).(domain.Actor)
	if !ok || actor.PersonID == "" {
		return domain.Actor{}, domain.ErrPermissionDenied
	}
	return actor, nil
}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/repository"
)

// Validator resolves the caller of an operation and checks which people's
// ledgers it may read or change.
type Validator struct {
	personRepo *repository.PersonRepository
}

// NewValidator creates a new Validator.
func NewValidator(personRepo *repository.PersonRepository) *Validator {
	return &Validator{
		personRepo: personRepo,
	}
}

// Viewer loads the person behind the actor and checks the actor's role.
// Only administrators may act with a role other than their own.
func (v *Validator) Viewer(ctx context.Context, actor domain.Actor) (*domain.Person, error) {
	if !actor.Role.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRole, actor.Role)
	}

	viewer, err := v.personRepo.GetByID(ctx, actor.PersonID)
	if err != nil {
		if errors.Is(err, domain.ErrPersonNotFound) {
			return nil, fmt.Errorf("%w: unknown actor %s", domain.ErrPermissionDenied, actor.PersonID)
		}
		return nil, err
	}

	if !viewer.IsActive {
		return nil, fmt.Errorf("%w: actor %s", domain.ErrPersonInactive, viewer.ID)
	}

	if viewer.Role != domain.RoleAdmin && actor.Role != viewer.Role {
		return nil, fmt.Errorf("%w: person %s cannot act as %s", domain.ErrPermissionDenied, viewer.ID, actor.Role)
	}

	return viewer, nil
}

// CanAccess returns the target person if the actor may see their ledger.
// Inactive targets are rejected with ErrPersonInactive.
func (v *Validator) CanAccess(ctx context.Context, actor domain.Actor, targetID string) (*domain.Person, error) {
	viewer, err := v.Viewer(ctx, actor)
	if err != nil {
		return nil, err
	}

	if targetID == viewer.ID {
		return viewer, nil
	}

	dir, err := v.directory(ctx)
	if err != nil {
		return nil, err
	}

	target, ok := dir.ByID(targetID)
	if !ok {
		// Not among the active people: unknown or deactivated.
		p, err := v.personRepo.GetByID(ctx, targetID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: person %s", domain.ErrPersonInactive, p.ID)
	}

	if !dir.CanSee(actor, target) {
		return nil, fmt.Errorf("%w: %s %s cannot see person %s", domain.ErrPermissionDenied, actor.Role, viewer.ID, target.ID)
	}

	return target, nil
}

func (v *Validator) directory(ctx context.Context) (*domain.Directory, error) {
	people, err := v.personRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return domain.NewDirectory(people), nil
}

// RequireRole checks that the actor holds one of the roles.
func (v *Validator) RequireRole(ctx context.Context, actor domain.Actor, roles ...domain.Role) error {
	if _, err := v.Viewer(ctx, actor); err != nil {
		return err
	}

	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s not allowed", domain.ErrPermissionDenied, actor.Role)
}

// VisiblePeople lists the active people the actor can see, the actor first.
func (v *Validator) VisiblePeople(ctx context.Context, actor domain.Actor) ([]*domain.Person, error) {
	viewer, err := v.Viewer(ctx, actor)
	if err != nil {
		return nil, err
	}

	dir, err := v.directory(ctx)
	if err != nil {
		return nil, err
	}

	visible := dir.Visible(actor)

	out := make([]*domain.Person, 0, len(visible))
	out = append(out, viewer)
	for _, p := range visible {
		if p.ID != viewer.ID {
			out = append(out, p)
		}
	}
	return out, nil
}

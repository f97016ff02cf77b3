package service

import (
	"context"
	"strings"

	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/logger"
)

// VariableService owns the catalogue of trackable variables and the
// links between owners and the variables they track.
type VariableService struct {
	store Store
	log   *logger.Logger
}

func NewVariableService(s Store, log *logger.Logger) *VariableService {
	return &VariableService{store: s, log: log}
}

// CreateGlobalVariable adds a variable to the catalogue. Creating a name
// that already exists returns the existing variable.
func (s *VariableService) CreateGlobalVariable(ctx context.Context, name string, category domain.VariableCategory, unit string) (*domain.GlobalVariable, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalid("name", "cannot be empty")
	}
	if !category.Valid() {
		return nil, domain.Invalid("category", "must be condition, treatment or measurement, got %q", category)
	}

	existing, err := s.store.GetGlobalVariableByName(ctx, name)
	if err != nil {
		return nil, domain.Dependency("get variable", err)
	}
	if existing != nil {
		return existing, nil
	}

	v := &domain.GlobalVariable{Name: name, Category: category, Unit: strings.TrimSpace(unit)}
	if err := s.store.CreateGlobalVariable(ctx, v); err != nil {
		return nil, domain.Dependency("create variable", err)
	}
	return v, nil
}

func (s *VariableService) ListGlobalVariables(ctx context.Context) ([]*domain.GlobalVariable, error) {
	vars, err := s.store.ListGlobalVariables(ctx)
	if err != nil {
		return nil, domain.Dependency("list variables", err)
	}
	return vars, nil
}

// EnsureOwnerLink returns the id of the link between ownerID and the
// global variable, creating it on first use. It is the only way links
// are created.
func (s *VariableService) EnsureOwnerLink(ctx context.Context, ownerID, globalVariableID int64) (int64, error) {
	owner, err := s.store.GetUser(ctx, ownerID)
	if err != nil {
		return 0, domain.Dependency("get owner", err)
	}
	if owner == nil {
		return 0, &domain.NotFoundError{Entity: "user", ID: ownerID}
	}

	gv, err := s.store.GetGlobalVariable(ctx, globalVariableID)
	if err != nil {
		return 0, domain.Dependency("get variable", err)
	}
	if gv == nil {
		return 0, &domain.NotFoundError{Entity: "variable", ID: globalVariableID}
	}

	link, created, err := s.store.EnsureUserVariable(ctx, ownerID, globalVariableID)
	if err != nil {
		return 0, domain.Dependency("ensure owner link", err)
	}
	if created {
		s.log.WithComponent("variables").WithFields(map[string]interface{}{
			"user_id":          ownerID,
			"variable":         gv.Name,
			"user_variable_id": link.ID,
		}).Info("Owner started tracking variable")
	}
	return link.ID, nil
}

// ownedLink loads a link and checks it belongs to ownerID.
func (s *VariableService) ownedLink(ctx context.Context, ownerID, userVariableID int64) (*domain.UserVariable, error) {
	link, err := s.store.GetUserVariable(ctx, userVariableID)
	if err != nil {
		return nil, domain.Dependency("get owner link", err)
	}
	if link == nil || link.UserID != ownerID {
		return nil, &domain.NotFoundError{Entity: "user variable", ID: userVariableID}
	}
	return link, nil
}

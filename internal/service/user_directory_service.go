package service

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
)

const (
	maxRolesPerQuery = 10
	maxAssignees     = 200
)

// Assignee is a user that can be picked as a controller or reviewer.
type Assignee struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// UserDirectoryService lists users for assignment pickers.
type UserDirectoryService struct {
	users UserStore
	log   *logger.Logger
}

// NewUserDirectoryService creates a new UserDirectoryService.
func NewUserDirectoryService(users UserStore, log *logger.Logger) *UserDirectoryService {
	return &UserDirectoryService{users: users, log: log}
}

// ListForAssign returns active users holding any of roles, controllers and
// managers when none are given. Results are unique by uid and capped.
func (s *UserDirectoryService) ListForAssign(ctx context.Context, actor Actor, roles []string) ([]*Assignee, error) {
	if actor.UID == "" {
		return nil, errors.Unauthenticated("Sign in required.")
	}

	roles = dedupe(roles)
	if len(roles) == 0 {
		roles = []string{repository.RoleController, repository.RoleManager}
	}

	var chunks [][]string
	for start := 0; start < len(roles); start += maxRolesPerQuery {
		end := min(start+maxRolesPerQuery, len(roles))
		chunks = append(chunks, roles[start:end])
	}

	results := make([][]*repository.UserProfile, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			profiles, err := s.users.ListActiveByRoles(gctx, chunk, maxAssignees)
			if err != nil {
				return err
			}
			results[i] = profiles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Error().Err(err).Strs("roles", roles).Msg("Failed to list users for assignment")
		return nil, err
	}

	seen := make(map[string]bool)
	items := make([]*Assignee, 0)
	for _, profiles := range results {
		for _, p := range profiles {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			items = append(items, newAssignee(p))
			if len(items) >= maxAssignees {
				return items, nil
			}
		}
	}
	return items, nil
}

func newAssignee(p *repository.UserProfile) *Assignee {
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = strings.TrimSpace(p.Name)
	}
	if name == "" {
		name = strings.TrimSpace(p.Email)
	}
	if name == "" {
		name = "User"
	}
	role := p.Role
	if role == "" {
		role = repository.RoleController
	}
	return &Assignee{
		UID:         p.ID,
		DisplayName: name,
		Email:       strings.TrimSpace(p.Email),
		Role:        role,
	}
}

// Package memory implementa los repositorios de dominio en memoria.
// Replica la semántica del backend Postgres (case-insensitivity, unicidad,
// atomicidad de link/unlink) para desarrollo y testing.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/idlink/internal/domain/repository"
)

// Accounts implementa repository.AccountRepository en memoria.
type Accounts struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*repository.Account
}

func NewAccounts() *Accounts {
	return &Accounts{
		nextID: 1,
		byID:   make(map[int64]*repository.Account),
	}
}

// Seed inserta una cuenta tal cual, asignando ID. Solo para tests/dev.
func (s *Accounts) Seed(a repository.Account) *repository.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = s.nextID
	s.nextID++
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	cp := a
	s.byID[a.ID] = &cp
	return clone(&cp)
}

func clone(a *repository.Account) *repository.Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.PasswordHash != nil {
		v := *a.PasswordHash
		cp.PasswordHash = &v
	}
	if a.ExternalSubject != nil {
		v := *a.ExternalSubject
		cp.ExternalSubject = &v
	}
	if a.LinkedAt != nil {
		v := *a.LinkedAt
		cp.LinkedAt = &v
	}
	if a.LastExternalLogin != nil {
		v := *a.LastExternalLogin
		cp.LastExternalLogin = &v
	}
	return &cp
}

func (s *Accounts) GetByID(_ context.Context, id int64) (*repository.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(a), nil
}

func (s *Accounts) GetBySubject(_ context.Context, subject string) (*repository.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if a.ExternalSubject != nil && *a.ExternalSubject == subject {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Accounts) GetByUsername(_ context.Context, username string) (*repository.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if strings.EqualFold(a.Username, strings.TrimSpace(username)) {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Accounts) GetByEmail(_ context.Context, email string) (*repository.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if strings.EqualFold(a.Email, strings.TrimSpace(email)) {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Accounts) CreateExternal(_ context.Context, in repository.CreateExternalInput) (*repository.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.byID {
		if strings.EqualFold(a.Username, in.Username) || strings.EqualFold(a.Email, in.Email) {
			return nil, repository.ErrConflict
		}
		if a.ExternalSubject != nil && *a.ExternalSubject == in.Subject {
			return nil, repository.ErrConflict
		}
	}

	now := time.Now().UTC()
	subject := in.Subject
	a := &repository.Account{
		ID:              s.nextID,
		Username:        in.Username,
		Email:           in.Email,
		DisplayName:     in.DisplayName,
		ExternalSubject: &subject,
		AuthProvider:    repository.ProviderExternal,
		LinkedAt:        &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.nextID++
	s.byID[a.ID] = a
	return clone(a), nil
}

func (s *Accounts) LinkSubject(_ context.Context, accountID int64, subject string, keepLocal bool) (*repository.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	if a.ExternalSubject != nil && *a.ExternalSubject != subject {
		return nil, repository.ErrConflict
	}
	for id, other := range s.byID {
		if id != accountID && other.ExternalSubject != nil && *other.ExternalSubject == subject {
			return nil, repository.ErrSubjectTaken
		}
	}

	now := time.Now().UTC()
	sub := subject
	a.ExternalSubject = &sub
	if keepLocal {
		if a.AuthProvider == repository.ProviderLocal {
			a.AuthProvider = repository.ProviderBoth
		}
	} else {
		a.AuthProvider = repository.ProviderExternal
	}
	if a.LinkedAt == nil {
		a.LinkedAt = &now
	}
	a.LastExternalLogin = &now
	a.UpdatedAt = now
	return clone(a), nil
}

func (s *Accounts) UnlinkSubject(_ context.Context, accountID int64) (*repository.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !a.HasPassword() {
		return nil, repository.ErrNoFallbackCredential
	}

	a.ExternalSubject = nil
	a.AuthProvider = repository.ProviderLocal
	a.LinkedAt = nil
	a.UpdatedAt = time.Now().UTC()
	return clone(a), nil
}

func (s *Accounts) TouchExternalLogin(_ context.Context, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[accountID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	a.LastExternalLogin = &now
	return nil
}

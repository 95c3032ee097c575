// Package state guarda el estado transitorio de los flujos de autenticación
// externa: el state token que viaja en el authorization redirect y los
// conflictos de email que quedan pendientes de confirmación manual.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/idlink/internal/cache"
	"github.com/dropDatabas3/idlink/internal/oidc"
)

const (
	// stateTTL acota la ventana entre el redirect al provider y el callback.
	stateTTL = 10 * time.Minute

	// conflictTTL acota cuánto puede quedar un conflicto esperando confirmación.
	conflictTTL = 15 * time.Minute
)

// Mode distingue para qué se emitió un state token.
type Mode string

const (
	ModeLogin Mode = "login"
	ModeLink  Mode = "link"
)

var (
	// ErrStateNotFound indica state desconocido, expirado o ya consumido.
	ErrStateNotFound = errors.New("state: not found or expired")

	// ErrConflictNotFound indica que no hay conflicto pendiente para el token.
	ErrConflictNotFound = errors.New("state: no pending conflict")
)

// Entry es lo que se asocia a un state token emitido.
type Entry struct {
	Mode      Mode      `json:"mode"`
	AccountID int64     `json:"account_id,omitempty"` // solo en ModeLink
	CreatedAt time.Time `json:"created_at"`
}

// PendingConflict es un EmailConflict esperando confirmación del usuario.
type PendingConflict struct {
	AccountID int64          `json:"account_id"`
	Identity  *oidc.Identity `json:"identity"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store emite y consume tokens de un solo uso sobre el cache.
type Store struct {
	cache cache.Client
}

func NewStore(c cache.Client) *Store {
	return &Store{cache: c}
}

// Issue emite un state token nuevo para el modo dado.
func (s *Store) Issue(ctx context.Context, mode Mode, accountID int64) (string, error) {
	token := uuid.NewString()
	b, err := json.Marshal(Entry{Mode: mode, AccountID: accountID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, "state:"+token, string(b), stateTTL); err != nil {
		return "", fmt.Errorf("state: store failed: %w", err)
	}
	return token, nil
}

// Consume valida y elimina un state token. Un token solo se consume una vez.
func (s *Store) Consume(ctx context.Context, token string) (*Entry, error) {
	if token == "" {
		return nil, ErrStateNotFound
	}
	raw, err := s.cache.Get(ctx, "state:"+token)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	// Borrar antes de usar: si el callback se repite, el segundo pierde.
	_ = s.cache.Delete(ctx, "state:"+token)

	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, ErrStateNotFound
	}
	return &e, nil
}

// StashConflict guarda un conflicto pendiente y retorna el token de confirmación.
func (s *Store) StashConflict(ctx context.Context, accountID int64, id *oidc.Identity) (string, error) {
	token := uuid.NewString()
	b, err := json.Marshal(PendingConflict{AccountID: accountID, Identity: id, CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, "conflict:"+token, string(b), conflictTTL); err != nil {
		return "", fmt.Errorf("state: store failed: %w", err)
	}
	return token, nil
}

// TakeConflict consume un conflicto pendiente.
func (s *Store) TakeConflict(ctx context.Context, token string) (*PendingConflict, error) {
	if token == "" {
		return nil, ErrConflictNotFound
	}
	raw, err := s.cache.Get(ctx, "conflict:"+token)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}
	_ = s.cache.Delete(ctx, "conflict:"+token)

	var pc PendingConflict
	if err := json.Unmarshal([]byte(raw), &pc); err != nil {
		return nil, ErrConflictNotFound
	}
	return &pc, nil
}

package binding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "binding").Logger(),
	}
}

// Resolve maps a chat user to its directory identity. Missing and
// unverified bindings both yield ErrUnbound; a verified binding that was
// deactivated resolves with Active=false so the caller can deny it.
func (s *Service) Resolve(ctx context.Context, chatUserID string) (Resolution, error) {
	b, err := s.repo.GetByChatUser(ctx, chatUserID)
	if errors.Is(err, ErrNotFound) {
		return Resolution{}, ErrUnbound
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve binding: %w", err)
	}
	if !b.Verified {
		return Resolution{}, ErrUnbound
	}
	return Resolution{Key: b.SurrogateKey, Active: b.Active}, nil
}

// Set creates or replaces the chat user's binding. The result is active
// but unverified until an administrator calls Verify.
func (s *Service) Set(ctx context.Context, chatUserID string, key uuid.UUID) (*Binding, error) {
	if err := ValidateChatUserID(chatUserID); err != nil {
		return nil, err
	}
	if key == uuid.Nil {
		return nil, fmt.Errorf("surrogate_key is required")
	}

	current, err := s.repo.GetActiveByKey(ctx, key)
	switch {
	case err == nil && current.ChatUserID != chatUserID:
		return nil, ErrConflict
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("lookup surrogate key: %w", err)
	}

	b := &Binding{ChatUserID: chatUserID, SurrogateKey: key, Verified: false, Active: true}
	if err := s.repo.Upsert(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info().Str("chat_user_id", chatUserID).Str("surrogate_key", key.String()).Msg("binding set")
	return b, nil
}

// Verify marks an active binding as verified.
func (s *Service) Verify(ctx context.Context, chatUserID string) (*Binding, error) {
	b, err := s.repo.GetByChatUser(ctx, chatUserID)
	if err != nil {
		return nil, err
	}
	if !b.Active {
		return nil, fmt.Errorf("binding for %s is inactive", chatUserID)
	}
	if err := s.repo.SetVerified(ctx, chatUserID, true); err != nil {
		return nil, err
	}
	b.Verified = true
	s.logger.Info().Str("chat_user_id", chatUserID).Msg("binding verified")
	return b, nil
}

// Deactivate flags the chat user's binding inactive.
func (s *Service) Deactivate(ctx context.Context, chatUserID string) error {
	if err := s.repo.SetActive(ctx, chatUserID, false); err != nil {
		return err
	}
	s.logger.Info().Str("chat_user_id", chatUserID).Msg("binding deactivated")
	return nil
}

// DeactivateIdentity flags every binding of a directory identity inactive,
// used when the identity itself is deactivated upstream.
func (s *Service) DeactivateIdentity(ctx context.Context, key uuid.UUID) (int, error) {
	n, err := s.repo.DeactivateKey(ctx, key)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("surrogate_key", key.String()).Int("bindings", n).Msg("identity deactivated")
	return n, nil
}

func (s *Service) Get(ctx context.Context, chatUserID string) (*Binding, error) {
	return s.repo.GetByChatUser(ctx, chatUserID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Binding, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// GetBySurrogate returns the verified, active binding of a directory
// identity, or ErrUnbound.
func (s *Service) GetBySurrogate(ctx context.Context, key uuid.UUID) (*Binding, error) {
	b, err := s.repo.GetActiveByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnbound
	}
	if err != nil {
		return nil, err
	}
	if !b.Usable() {
		return nil, ErrUnbound
	}
	return b, nil
}

package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/dmitrijs2005/chunkvault/internal/common"
)

// TokenSource hands out bearer tokens for a user's remote account.
type TokenSource interface {
	AccessToken(ctx context.Context, userID, backend string) (string, error)
}

// ObjectAPI is the minimal blob API a remote backend must offer. token is
// empty for backends that authenticate on their own (S3).
type ObjectAPI interface {
	Upload(ctx context.Context, token, name string, data []byte) (string, error)
	Download(ctx context.Context, token, id string) ([]byte, error)
	Delete(ctx context.Context, token, id string) error
}

// RemoteStore adapts an ObjectAPI to Store, fetching a fresh bearer token
// for every call.
type RemoteStore struct {
	backend string
	api     ObjectAPI
	tokens  TokenSource
}

// NewRemoteStore builds a store for backend. tokens may be nil when the API
// does not use bearer tokens.
func NewRemoteStore(backend string, api ObjectAPI, tokens TokenSource) *RemoteStore {
	return &RemoteStore{backend: backend, api: api, tokens: tokens}
}

func (s *RemoteStore) Backend() string { return s.backend }

func (s *RemoteStore) token(ctx context.Context, userID string) (string, error) {
	if s.tokens == nil {
		return "", nil
	}
	return s.tokens.AccessToken(ctx, userID, s.backend)
}

func (s *RemoteStore) Put(ctx context.Context, ref ChunkRef, data []byte) (Locator, error) {
	tok, err := s.token(ctx, ref.UserID)
	if err != nil {
		return Locator{}, err
	}
	id, err := s.api.Upload(ctx, tok, path.Join("chunkvault", ref.UserID, ref.ObjectName()), data)
	if err != nil {
		return Locator{}, fmt.Errorf("%s upload %s: %w", s.backend, ref.ObjectName(), err)
	}
	return Locator{RemoteID: id, Backend: s.backend}, nil
}

func (s *RemoteStore) Get(ctx context.Context, userID string, loc Locator) ([]byte, error) {
	if err := s.check(loc); err != nil {
		return nil, err
	}
	tok, err := s.token(ctx, userID)
	if err != nil {
		return nil, err
	}
	data, err := s.api.Download(ctx, tok, loc.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("%s download %s: %w", s.backend, loc.RemoteID, err)
	}
	return data, nil
}

func (s *RemoteStore) Delete(ctx context.Context, userID string, loc Locator) error {
	if err := s.check(loc); err != nil {
		return err
	}
	tok, err := s.token(ctx, userID)
	if err != nil {
		return err
	}
	err = s.api.Delete(ctx, tok, loc.RemoteID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("%s delete %s: %w", s.backend, loc.RemoteID, err)
	}
	return nil
}

func (s *RemoteStore) check(loc Locator) error {
	if loc.RemoteID == "" {
		return fmt.Errorf("%w: empty remote locator", common.ErrorNotFound)
	}
	if loc.Backend != s.backend {
		return fmt.Errorf("%w: locator for %q given to %q store", common.ErrInvalidOperation, loc.Backend, s.backend)
	}
	return nil
}

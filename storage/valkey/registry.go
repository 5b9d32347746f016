package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/provara/provara"
)

// CreateClient registers a client. An existing registration with the same ID
// is replaced. Client records carry no TTL; registrations live until removed.
func (s *Store) CreateClient(ctx context.Context, client *provara.Client) error {
	start := time.Now()

	data, err := json.Marshal(client)
	if err != nil {
		s.record(ctx, "create_client", start, err)
		return fmt.Errorf("marshaling client: %w", err)
	}

	err = s.client.Do(ctx, s.client.B().Set().Key(s.clientKey(client.ID)).Value(string(data)).Build()).Error()
	s.record(ctx, "create_client", start, err)
	if err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}

// DeleteClient removes a client registration
func (s *Store) DeleteClient(ctx context.Context, id string) error {
	start := time.Now()
	err := s.client.Do(ctx, s.client.B().Del().Key(s.clientKey(id)).Build()).Error()
	s.record(ctx, "delete_client", start, err)
	if err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}

// GetClient implements provara.ClientRegistry
func (s *Store) GetClient(ctx context.Context, id string) (*provara.Client, error) {
	start := time.Now()

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(id)).Build()).ToString()
	if err != nil {
		if isNilReply(err) {
			s.record(ctx, "get_client", start, provara.ErrNotFound)
			return nil, provara.ErrNotFound.WithDescriptionf("client %q is not registered", id)
		}
		s.record(ctx, "get_client", start, err)
		return nil, provara.ErrServerError(err.Error())
	}

	var client provara.Client
	if err := json.Unmarshal([]byte(data), &client); err != nil {
		s.record(ctx, "get_client", start, err)
		return nil, provara.ErrServerError("malformed client record: " + err.Error())
	}

	s.record(ctx, "get_client", start, nil)
	return &client, nil
}

// ValidateClientSecret implements provara.ClientRegistry
func (s *Store) ValidateClientSecret(ctx context.Context, id string, secret []byte) error {
	client, err := s.GetClient(ctx, id)
	if err != nil {
		return err
	}
	if client.Public {
		return provara.ErrInvalidClient("public clients have no secret to validate")
	}
	if err := s.hasher.Compare(ctx, client.HashedSecret, secret); err != nil {
		return provara.ErrInvalidClient("the provided client secret is wrong")
	}
	return nil
}

package registry

import (
	"context"
	"errors"
	"time"

	"github.com/rwamarkets/settlecore/pkg/messaging"
)

var (
	ErrAlreadyInitialized = errors.New("registry already initialized")
	ErrNotInitialized     = errors.New("registry not initialized")
	ErrUnauthorized       = errors.New("caller is not authorized")
	ErrCannotRemoveRoot   = errors.New("root authority cannot be removed")
	ErrPrincipalNotFound  = errors.New("principal not found")
)

// Store persists the root authority and the mutable allowlist.
type Store interface {
	Initialize(ctx context.Context, root string) error
	Root(ctx context.Context) (string, error)
	Add(ctx context.Context, principal string) error
	Remove(ctx context.Context, principal string) (bool, error)
	IsMember(ctx context.Context, principal string) (bool, error)
	Members(ctx context.Context) ([]string, error)
}

// Service is the authorization registry: one immutable root authority plus an
// allowlist of principals permitted to perform privileged settlement actions.
type Service struct {
	store  Store
	events *messaging.Client
}

// NewService creates a registry service. events may be nil.
func NewService(store Store, events *messaging.Client) *Service {
	return &Service{store: store, events: events}
}

// Initialize sets the root authority. It can succeed at most once.
func (s *Service) Initialize(ctx context.Context, rootAuthority string) error {
	return s.store.Initialize(ctx, rootAuthority)
}

// IsAuthorized reports whether principal may perform privileged actions. The
// root authority is always implicitly authorized.
func (s *Service) IsAuthorized(ctx context.Context, principal string) (bool, error) {
	root, err := s.store.Root(ctx)
	if err != nil {
		return false, err
	}
	if principal == root {
		return true, nil
	}
	return s.store.IsMember(ctx, principal)
}

// AddPrincipal adds a principal to the allowlist. The caller must already be
// authorized. Adding the root authority is a no-op: it is authorized by
// construction and must never enter the removable set.
func (s *Service) AddPrincipal(ctx context.Context, caller, principal string) error {
	if err := s.requireAuthorized(ctx, caller); err != nil {
		return err
	}

	root, err := s.store.Root(ctx)
	if err != nil {
		return err
	}
	if principal == root {
		return nil
	}

	if err := s.store.Add(ctx, principal); err != nil {
		return err
	}

	s.events.Publish(ctx, messaging.SubjectPrincipalAdded, messaging.RegistryEvent{
		Principal: principal,
		Caller:    caller,
		Timestamp: time.Now(),
	})
	return nil
}

// RemovePrincipal revokes a principal. The root authority is never removable,
// regardless of caller.
func (s *Service) RemovePrincipal(ctx context.Context, caller, target string) error {
	if err := s.requireAuthorized(ctx, caller); err != nil {
		return err
	}

	root, err := s.store.Root(ctx)
	if err != nil {
		return err
	}
	if target == root {
		return ErrCannotRemoveRoot
	}

	removed, err := s.store.Remove(ctx, target)
	if err != nil {
		return err
	}
	if !removed {
		return ErrPrincipalNotFound
	}

	s.events.Publish(ctx, messaging.SubjectPrincipalRemoved, messaging.RegistryEvent{
		Principal: target,
		Caller:    caller,
		Timestamp: time.Now(),
	})
	return nil
}

// Principals returns the current allowlist, excluding the root authority.
func (s *Service) Principals(ctx context.Context) ([]string, error) {
	return s.store.Members(ctx)
}

func (s *Service) requireAuthorized(ctx context.Context, caller string) error {
	ok, err := s.IsAuthorized(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

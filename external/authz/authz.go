// Package authz is a reference implementation of the authorization
// collaborator the engine expects for administrative operations
// (pool/link topology changes, configuration import). The aggregator
// calls Authorize from those operations while holding its own mutex;
// Provider guards its credentials with its own lock and never calls
// back into the aggregator.
package authz

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnknownPrincipal is returned when no credential is registered for
// a principal name.
var ErrUnknownPrincipal = errors.New("authz: unknown principal")

// ErrDenied is returned when a credential check fails.
var ErrDenied = errors.New("authz: access denied")

// Operation names one administrative action gated by this package.
type Operation string

const (
	OpAddPool             Operation = "add_pool"
	OpRemovePool          Operation = "remove_pool"
	OpAddLink             Operation = "add_link"
	OpRemoveLink          Operation = "remove_link"
	OpSetStreamingPool    Operation = "set_streaming_pool"
	OpImportConfiguration Operation = "import_configuration"
)

type credential struct {
	salt   string
	hash   []byte
	scopes map[Operation]bool
}

// Provider is a bcrypt-backed, in-memory credential store granting
// principals scoped access to administrative operations.
type Provider struct {
	mu          sync.RWMutex
	credentials map[string]*credential
}

// NewProvider returns an empty Provider.
func NewProvider() *Provider {
	return &Provider{credentials: make(map[string]*credential)}
}

// Register hashes password with a fresh random salt and grants
// principal the given set of operations.
func (p *Provider) Register(principal, password string, scopes []Operation) error {
	salt, err := randomSalt()
	if err != nil {
		return fmt.Errorf("authz: generating salt: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password+salt), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("authz: hashing credential: %w", err)
	}

	scopeSet := make(map[Operation]bool, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.credentials[principal] = &credential{salt: salt, hash: hash, scopes: scopeSet}
	return nil
}

// Authorize verifies password for principal and confirms principal is
// scoped for op.
func (p *Provider) Authorize(principal, password string, op Operation) error {
	p.mu.RLock()
	cred, ok := p.credentials[principal]
	p.mu.RUnlock()
	if !ok {
		return ErrUnknownPrincipal
	}

	if err := bcrypt.CompareHashAndPassword(cred.hash, []byte(password+cred.salt)); err != nil {
		return ErrDenied
	}
	if !cred.scopes[op] {
		return ErrDenied
	}
	return nil
}

func randomSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

package ratelimit

import (
	"fmt"
	"sync"

	"github.com/erp/marketsync/internal/domain/integration"
)

// Scope selects whether accounts share budgets
type Scope string

const (
	// ScopeGlobal shares one limiter between all accounts
	ScopeGlobal Scope = "global"
	// ScopeAccount gives every account its own limiter
	ScopeAccount Scope = "account"
)

// IsValid checks if the scope is known
func (s Scope) IsValid() bool {
	return s == ScopeGlobal || s == ScopeAccount
}

// Registry hands out the limiter responsible for an account
type Registry struct {
	mu       sync.Mutex
	scope    Scope
	cfg      Config
	opts     []LimiterOption
	global   *Limiter
	accounts map[integration.AccountID]*Limiter
}

// NewRegistry creates a registry. An empty scope means global.
func NewRegistry(scope Scope, cfg Config, opts ...LimiterOption) (*Registry, error) {
	if scope == "" {
		scope = ScopeGlobal
	}
	if !scope.IsValid() {
		return nil, fmt.Errorf("ratelimit: unknown scope %q", scope)
	}
	global, err := NewLimiter(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Registry{
		scope:    scope,
		cfg:      cfg,
		opts:     opts,
		global:   global,
		accounts: make(map[integration.AccountID]*Limiter),
	}, nil
}

// Scope returns the configured scope
func (r *Registry) Scope() Scope {
	return r.scope
}

// For returns the limiter governing the account's calls
func (r *Registry) For(account integration.AccountID) *Limiter {
	if r.scope == ScopeGlobal {
		return r.global
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.accounts[account]; ok {
		return l
	}
	// cfg was validated when the global limiter was built
	l, _ := NewLimiter(r.cfg, r.opts...)
	r.accounts[account] = l
	return l
}

// Package guard holds the authorization predicates evaluated before any
// mutation. Roles are not hierarchical: the protocol authority is neither
// agent nor owner, and the agent is never an owner.
package guard

import (
	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/model"
)

// RequireAgent fails unless caller is the configured agent authority.
func RequireAgent(caller model.Address, cfg *model.ProtocolConfig) error {
	if cfg == nil || caller != cfg.AgentAuthority {
		return errcode.ErrUnauthorizedAgent
	}
	return nil
}

// RequireOwner fails unless caller registered the position.
func RequireOwner(caller model.Address, p *model.Position) error {
	if p == nil || caller != p.Owner {
		return errcode.ErrUnauthorizedOwner
	}
	return nil
}

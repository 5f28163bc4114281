// Package policy is a casbin backed enforcement point. Every identity is
// granted the capability by a wildcard allow rule; revoking adds a per
// identity deny rule, restoring removes it.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	enforcementdomain "github.com/smallbiznis/quotaguard/internal/enforcement/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	subjectAll  = "*"
	effectDeny  = "deny"
	effectAllow = "allow"
)

// Capability names the object/action pair guarded by the policy store.
type Capability struct {
	Object string
	Action string
}

// ParseCapability splits "object:action". A bare object maps to action "use".
func ParseCapability(raw string) Capability {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "resource:invoke"
	}
	object, action, found := strings.Cut(raw, ":")
	if !found || strings.TrimSpace(action) == "" {
		action = "use"
	}
	return Capability{Object: strings.TrimSpace(object), Action: strings.TrimSpace(action)}
}

func (c Capability) String() string {
	return c.Object + ":" + c.Action
}

type Store struct {
	enforcer   *casbin.SyncedEnforcer
	capability Capability
	log        *zap.Logger
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// NewStore seeds the wildcard grant for capability when missing.
func NewStore(enforcer *casbin.SyncedEnforcer, capability Capability, log *zap.Logger) (*Store, error) {
	if _, err := enforcer.AddPolicy(subjectAll, capability.Object, capability.Action, effectAllow); err != nil {
		return nil, fmt.Errorf("seed capability grant: %w", err)
	}
	return &Store{
		enforcer:   enforcer,
		capability: capability,
		log:        log.Named("enforcement.policy"),
	}, nil
}

func (s *Store) Revoke(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return enforcementdomain.ErrInvalidIdentity
	}
	added, err := s.applyFresh(func() (bool, error) {
		return s.enforcer.AddPolicy(identity, s.capability.Object, s.capability.Action, effectDeny)
	})
	if err != nil {
		return err
	}
	if added {
		s.log.Info("capability revoked", zap.String("identity", identity), zap.String("capability", s.capability.String()))
	}
	return nil
}

func (s *Store) Restore(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return enforcementdomain.ErrInvalidIdentity
	}
	removed, err := s.applyFresh(func() (bool, error) {
		return s.enforcer.RemovePolicy(identity, s.capability.Object, s.capability.Action, effectDeny)
	})
	if err != nil {
		return err
	}
	if removed {
		s.log.Info("capability restored", zap.String("identity", identity), zap.String("capability", s.capability.String()))
	}
	return nil
}

// applyFresh runs change and, when the in-memory policy says there is
// nothing to do, reloads from the table and tries once more. Another
// instance may have changed the row since this one last loaded.
func (s *Store) applyFresh(change func() (bool, error)) (bool, error) {
	changed, err := change()
	if err != nil || changed {
		return changed, err
	}
	if err := s.enforcer.LoadPolicy(); err != nil {
		return false, err
	}
	return change()
}

func (s *Store) Allowed(ctx context.Context, identity string) (bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false, enforcementdomain.ErrInvalidIdentity
	}
	return s.enforcer.Enforce(identity, s.capability.Object, s.capability.Action)
}

package gateway

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Role is an organization role. Roles are strictly ordered; an operation's
// minimum required role admits every role of equal or higher rank.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRanks = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRanks[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Allows reports whether r satisfies the required minimum role.
func (r Role) Allows(required Role) bool {
	return roleRanks[r] >= roleRanks[required]
}

// Membership records a subject's role within an org.
type Membership struct {
	Role    Role      `json:"role"`
	AddedAt time.Time `json:"added_at"`
}

// Org is a tenant: a named set of members.
type Org struct {
	ID      string                `json:"id"`
	Name    string                `json:"name"`
	Members map[string]Membership `json:"members"`
}

// orgStore owns all org state. It is passed into the gateway rather than
// living in package scope so tests can run isolated gateway instances.
type orgStore struct {
	mu   sync.RWMutex
	orgs map[string]*Org

	// defaultRole is granted when an unknown subject is auto-provisioned
	// into an existing org.
	defaultRole Role
}

func newOrgStore(defaultRole Role) *orgStore {
	return &orgStore{
		orgs:        make(map[string]*Org),
		defaultRole: defaultRole,
	}
}

// resolve returns the subject's role in the org, auto-provisioning as
// needed: the first subject to touch a fresh org becomes its owner, later
// unknown subjects join at the store's default role.
func (s *orgStore) resolve(orgID, subject string) Role {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		org = &Org{ID: orgID, Name: orgID, Members: make(map[string]Membership)}
		s.orgs[orgID] = org
		org.Members[subject] = Membership{Role: RoleOwner, AddedAt: time.Now().UTC()}
		return RoleOwner
	}
	if m, ok := org.Members[subject]; ok {
		return m.Role
	}
	org.Members[subject] = Membership{Role: s.defaultRole, AddedAt: time.Now().UTC()}
	return s.defaultRole
}

// setMember adds or updates a membership.
func (s *orgStore) setMember(orgID, subject string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		org = &Org{ID: orgID, Name: orgID, Members: make(map[string]Membership)}
		s.orgs[orgID] = org
	}
	m := org.Members[subject]
	if m.AddedAt.IsZero() {
		m.AddedAt = time.Now().UTC()
	}
	m.Role = role
	org.Members[subject] = m
}

// removeMember deletes a membership. Removing the last owner is refused so
// an org cannot lock itself out.
func (s *orgStore) removeMember(orgID, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return fmt.Errorf("org %q not found", orgID)
	}
	m, ok := org.Members[subject]
	if !ok {
		return fmt.Errorf("member %q not found", subject)
	}
	if m.Role == RoleOwner && org.ownerCount() == 1 {
		return fmt.Errorf("cannot remove the last owner of org %q", orgID)
	}
	delete(org.Members, subject)
	return nil
}

// memberRole looks up a subject's role without provisioning.
func (s *orgStore) memberRole(orgID, subject string) (Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return "", false
	}
	m, ok := org.Members[subject]
	if !ok {
		return "", false
	}
	return m.Role, true
}

// members returns the org's membership sorted by subject.
func (s *orgStore) members(orgID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return nil
	}
	subjects := make([]string, 0, len(org.Members))
	for subject := range org.Members {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}

func (o *Org) ownerCount() int {
	n := 0
	for _, m := range o.Members {
		if m.Role == RoleOwner {
			n++
		}
	}
	return n
}

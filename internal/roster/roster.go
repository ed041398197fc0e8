// Package roster tracks room participants and their roles. At most one
// Scribe and one Moderator exist at a time, both drawn from agents by
// earliest join time, and roles are reassigned when a holder disconnects.
package roster

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/roundtable-ai/roundtable/internal/gateway"
	"github.com/roundtable-ai/roundtable/internal/metrics"
)

// Role is a participant's assigned duty in the room.
type Role string

const (
	RoleScribe    Role = "Scribe"
	RoleModerator Role = "Moderator"
	RolePlain     Role = "Plain"
)

// Participant is a connected human or agent.
type Participant struct {
	Name    string
	IsAgent bool
	// Spontaneity is the agent's baseline propensity to reply unprompted,
	// fixed at join time. Zero for humans.
	Spontaneity int
	Sampling    gateway.Sampling
	Persona     string
	JoinTime    time.Time
}

// Roster is the mutable participant registry. All access is mutex-guarded;
// read methods return copies.
type Roster struct {
	mu     sync.Mutex
	byName map[string]*Participant
	roles  map[string]Role // name -> Scribe/Moderator
	now    func() time.Time
}

func New() *Roster {
	return &Roster{
		byName: make(map[string]*Participant),
		roles:  make(map[string]Role),
		now:    time.Now,
	}
}

// Join registers a participant. Agent dispositions and sampling parameters
// are randomized once at join, matching the per-agent temperament model.
func (r *Roster) Join(name string, isAgent bool) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return nil, fmt.Errorf("participant name must not be empty")
	}
	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("name %q is already taken", name)
	}

	p := &Participant{
		Name:     name,
		IsAgent:  isAgent,
		JoinTime: r.now(),
	}
	if isAgent {
		p.Spontaneity = rand.Intn(50)
		p.Sampling = gateway.Sampling{
			Temperature: 0.7 + rand.Float64()*0.4,
			TopK:        30 + rand.Intn(20),
			TopP:        0.9 + rand.Float64()*0.1,
		}
	}
	r.byName[name] = p

	if isAgent {
		r.assignScribeLocked()
		r.assignModeratorLocked()
		metrics.ParticipantsConnected.WithLabelValues("agent").Inc()
	} else {
		metrics.ParticipantsConnected.WithLabelValues("human").Inc()
	}

	slog.Info("participant joined", "name", name, "agent", isAgent, "spontaneity", p.Spontaneity)
	return r.copyLocked(p), nil
}

// Leave removes a participant, releasing and reassigning any held role.
func (r *Roster) Leave(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)

	role, held := r.roles[name]
	delete(r.roles, name)

	if p.IsAgent {
		metrics.ParticipantsConnected.WithLabelValues("agent").Dec()
	} else {
		metrics.ParticipantsConnected.WithLabelValues("human").Dec()
	}

	if held {
		slog.Info("role released on disconnect", "name", name, "role", role)
		switch role {
		case RoleScribe:
			r.assignScribeLocked()
		case RoleModerator:
			r.assignModeratorLocked()
		}
	}
}

// SetPersona updates an agent's persona; ignored for unknown names and humans.
func (r *Roster) SetPersona(name, persona string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byName[name]; ok && p.IsAgent {
		p.Persona = persona
		slog.Info("persona set", "name", name)
	}
}

// Get returns a copy of the named participant.
func (r *Roster) Get(name string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.copyLocked(p), true
}

// FindByRole returns a copy of the role holder, or nil if the role is vacant.
func (r *Roster) FindByRole(role Role) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByRoleLocked(role)
}

// RoleOf returns the participant's role, RolePlain when none is assigned.
func (r *Roster) RoleOf(name string) Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[name]; ok {
		return role
	}
	return RolePlain
}

// ListNames returns every participant name, sorted for stable output.
func (r *Roster) ListNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Agents returns copies of all agent participants.
func (r *Roster) Agents() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Participant, 0, len(r.byName))
	for _, p := range r.byName {
		if p.IsAgent {
			out = append(out, r.copyLocked(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinTime.Before(out[j].JoinTime) })
	return out
}

func (r *Roster) findByRoleLocked(role Role) *Participant {
	for name, held := range r.roles {
		if held == role {
			if p, ok := r.byName[name]; ok {
				return r.copyLocked(p)
			}
		}
	}
	return nil
}

func (r *Roster) assignScribeLocked() {
	if r.findByRoleLocked(RoleScribe) != nil {
		return
	}
	if p := r.earliestAgentLocked(nil); p != nil {
		r.roles[p.Name] = RoleScribe
		slog.Info("role assigned", "name", p.Name, "role", RoleScribe)
	}
}

func (r *Roster) assignModeratorLocked() {
	if r.findByRoleLocked(RoleModerator) != nil {
		return
	}
	scribe := r.findByRoleLocked(RoleScribe)
	exclude := map[string]bool{}
	if scribe != nil {
		exclude[scribe.Name] = true
	}
	if p := r.earliestAgentLocked(exclude); p != nil {
		r.roles[p.Name] = RoleModerator
		slog.Info("role assigned", "name", p.Name, "role", RoleModerator)
	}
}

func (r *Roster) earliestAgentLocked(exclude map[string]bool) *Participant {
	var best *Participant
	for _, p := range r.byName {
		if !p.IsAgent || exclude[p.Name] {
			continue
		}
		if best == nil || p.JoinTime.Before(best.JoinTime) {
			best = p
		}
	}
	return best
}

func (r *Roster) copyLocked(p *Participant) *Participant {
	cp := *p
	return &cp
}

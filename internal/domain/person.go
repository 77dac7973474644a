package domain

import "time"

// Role is the access level of a person.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleLeader    Role = "leader"
	RoleInspector Role = "inspector"
)

// IsValid checks if the role is one of the allowed values.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleLeader, RoleInspector:
		return true
	default:
		return false
	}
}

// Person is an inspector, leader, manager or administrator.
// LeaderID is the parent pointer of the leadership tree.
type Person struct {
	ID           string
	Name         string
	Registration *string
	Role         Role
	SectorID     *string
	TeamID       *string
	LeaderID     *string
	IsActive     bool
	CreatedAt    time.Time
}

// Actor identifies who is calling a ledger operation. It is passed
// explicitly to every operation instead of being read from a session.
type Actor struct {
	PersonID string
	Role     Role
}

func sameRef(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

// Directory indexes people by id and derives the leader -> direct reports
// lookup from the LeaderID parent pointers.
type Directory struct {
	people  []*Person
	byID    map[string]*Person
	reports map[string][]*Person
}

// NewDirectory builds a Directory. Input order is preserved in listings.
func NewDirectory(people []*Person) *Directory {
	d := &Directory{
		people:  people,
		byID:    make(map[string]*Person, len(people)),
		reports: make(map[string][]*Person),
	}
	for _, p := range people {
		d.byID[p.ID] = p
	}
	for _, p := range people {
		if p.LeaderID == nil {
			continue
		}
		if _, ok := d.byID[*p.LeaderID]; ok {
			d.reports[*p.LeaderID] = append(d.reports[*p.LeaderID], p)
		}
	}
	return d
}

// ByID returns the person with the given id.
func (d *Directory) ByID(id string) (*Person, bool) {
	p, ok := d.byID[id]
	return p, ok
}

// Reports returns the direct reports of a leader.
func (d *Directory) Reports(leaderID string) []*Person {
	return d.reports[leaderID]
}

// CanSee reports whether the actor may read or act on target's ledger.
// Inactive people are visible to nobody.
func (d *Directory) CanSee(actor Actor, target *Person) bool {
	viewer, ok := d.ByID(actor.PersonID)
	if !ok || !target.IsActive {
		return false
	}
	if viewer.ID == target.ID {
		return true
	}

	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleManager:
		return sameRef(viewer.SectorID, target.SectorID)
	case RoleLeader:
		for _, p := range d.Reports(viewer.ID) {
			if p.ID == target.ID {
				return true
			}
		}
		return sameRef(viewer.TeamID, target.TeamID)
	case RoleInspector:
		return false
	default:
		return false
	}
}

// Visible returns every person the actor can see, the actor included.
func (d *Directory) Visible(actor Actor) []*Person {
	if _, ok := d.ByID(actor.PersonID); !ok {
		return nil
	}

	visible := make([]*Person, 0)
	for _, p := range d.people {
		if d.CanSee(actor, p) {
			visible = append(visible, p)
		}
	}
	return visible
}

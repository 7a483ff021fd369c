package types

import (
	"fmt"
	"sort"
)

// ServiceKey is the diff identity of a service.
type ServiceKey struct {
	AppID     int
	ServiceID int
}

func (k ServiceKey) String() string {
	return fmt.Sprintf("%d/%d", k.AppID, k.ServiceID)
}

// StateSnapshot is a full description of the device's applications.
type StateSnapshot struct {
	Apps map[int]*Application `json:"apps" yaml:"apps"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *StateSnapshot {
	return &StateSnapshot{Apps: make(map[int]*Application)}
}

// Clone returns a deep copy. A nil snapshot clones to an empty one.
func (s *StateSnapshot) Clone() *StateSnapshot {
	out := NewSnapshot()
	if s == nil {
		return out
	}
	for id, app := range s.Apps {
		if app == nil {
			continue
		}
		out.Apps[id] = app.Clone()
	}
	return out
}

// App returns the application with the given id.
func (s *StateSnapshot) App(appID int) (*Application, bool) {
	if s == nil {
		return nil, false
	}
	app, ok := s.Apps[appID]
	return app, ok && app != nil
}

// AppIDs returns the application ids in ascending order.
func (s *StateSnapshot) AppIDs() []int {
	if s == nil {
		return nil
	}
	ids := make([]int, 0, len(s.Apps))
	for id, app := range s.Apps {
		if app != nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Services indexes every service by key.
func (s *StateSnapshot) Services() map[ServiceKey]*Service {
	out := make(map[ServiceKey]*Service)
	for _, id := range s.AppIDs() {
		app := s.Apps[id]
		for i := range app.Services {
			svc := &app.Services[i]
			out[svc.Key(id)] = svc
		}
	}
	return out
}

// ServiceCount returns the number of services across all apps.
func (s *StateSnapshot) ServiceCount() int {
	n := 0
	for _, id := range s.AppIDs() {
		n += len(s.Apps[id].Services)
	}
	return n
}

// Equal reports whether both snapshots describe the same set of services
// with equal definitions. Apps without services are not observable on the
// runtime and do not take part.
func (s *StateSnapshot) Equal(o *StateSnapshot) bool {
	a, b := s.Services(), o.Services()
	if len(a) != len(b) {
		return false
	}
	for key, svc := range a {
		other, ok := b[key]
		if !ok || !svc.Equal(other) {
			return false
		}
	}
	return true
}

// Package plan computes the ordered operations that move the current
// state of a device to its target state. Diff is pure: it never talks to
// the runtime and never mutates its inputs.
package plan

import (
	"fmt"
	"strings"

	"appmanager/internal/errors"
	"appmanager/internal/types"
)

// Operation is one step of a plan.
type Operation struct {
	Kind    types.OperationKind
	AppID   int
	AppName string
	// Service is the target definition for CREATE and CONFLICT, and the
	// current one (with its container id) for REMOVE and START.
	Service types.Service
	// Recreate marks the REMOVE/CREATE pair produced by a changed service.
	Recreate bool
	// Err explains a CONFLICT.
	Err error
}

// Key returns the identity of the service the operation acts on.
func (o *Operation) Key() types.ServiceKey {
	return o.Service.Key(o.AppID)
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s(%d/%d)", o.Kind, o.Service.ServiceName, o.AppID, o.Service.ServiceID)
}

// Plan is an ordered list of operations.
type Plan struct {
	Operations []Operation
}

// Empty reports whether there is nothing to do.
func (p *Plan) Empty() bool {
	return len(p.Operations) == 0
}

// Count returns the number of operations of the given kind.
func (p *Plan) Count(kind types.OperationKind) int {
	n := 0
	for _, op := range p.Operations {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

func (p *Plan) String() string {
	parts := make([]string, len(p.Operations))
	for i, op := range p.Operations {
		parts[i] = op.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

type claim struct {
	binding types.HostBinding
	owner   types.ServiceKey
	name    string
}

type claims []claim

func (c claims) holder(b types.HostBinding, self types.ServiceKey) (claim, bool) {
	for _, cl := range c {
		if cl.owner != self && cl.binding.Overlaps(b) {
			return cl, true
		}
	}
	return claim{}, false
}

// Held is the set of services stopped on purpose. Their containers are
// left stopped instead of being started again.
type Held map[types.ServiceKey]bool

// Diff computes the plan moving current to target.
func Diff(current, target *types.StateSnapshot) *Plan {
	return DiffHeld(current, target, nil)
}

// DiffHeld computes the plan moving current to target.
//
// Services only in target are created, services only in current are
// removed, and services whose imageName or config changed are removed and
// created again. An unchanged service whose container is not running is
// started, unless it is held. Every REMOVE comes before every START and
// CREATE. Removes follow appId order and the current declared order,
// starts and creates follow appId order and the target declared order.
//
// Host ports held by unchanged services are claimed first; creates then
// claim ports in appId order. A create whose host port is already claimed
// becomes a CONFLICT, and if it was a recreate its REMOVE is dropped so
// the service is left untouched. The old container of such a recreate
// keeps its ports, so the creates are planned again with those ports
// claimed until no further recreate is refused.
func DiffHeld(current, target *types.StateSnapshot, held Held) *Plan {
	cur := current.Services()
	tgt := target.Services()

	var retained claims
	for _, appID := range target.AppIDs() {
		app := target.Apps[appID]
		for i := range app.Services {
			svc := &app.Services[i]
			key := svc.Key(appID)
			if old, ok := cur[key]; ok && old.Equal(svc) {
				retained = append(retained, bindingsOf(old, key)...)
			}
		}
	}

	pinned := make(map[types.ServiceKey]bool)
	var creates []Operation
	var recreated map[types.ServiceKey]bool
	for {
		taken := append(claims(nil), retained...)
		for key := range pinned {
			taken = append(taken, bindingsOf(cur[key], key)...)
		}

		var refused bool
		creates, recreated, refused = planCreates(cur, target, held, taken, pinned)
		if !refused {
			break
		}
	}

	var removes []Operation
	for _, appID := range current.AppIDs() {
		app := current.Apps[appID]
		for i := range app.Services {
			svc := &app.Services[i]
			key := svc.Key(appID)
			if _, wanted := tgt[key]; wanted && !recreated[key] {
				continue
			}
			removes = append(removes, Operation{
				Kind:     types.OpRemove,
				AppID:    appID,
				AppName:  app.AppName,
				Service:  svc.Clone(),
				Recreate: recreated[key],
			})
		}
	}

	return &Plan{Operations: append(removes, creates...)}
}

// planCreates plans the START, CREATE and CONFLICT operations against the
// ports in taken. A recreate refused for the first time is added to pinned
// and reported, since its old container keeps its ports.
func planCreates(cur map[types.ServiceKey]*types.Service, target *types.StateSnapshot, held Held, taken claims, pinned map[types.ServiceKey]bool) ([]Operation, map[types.ServiceKey]bool, bool) {
	var ops []Operation
	recreated := make(map[types.ServiceKey]bool)
	refused := false

	for _, appID := range target.AppIDs() {
		app := target.Apps[appID]
		for i := range app.Services {
			svc := &app.Services[i]
			key := svc.Key(appID)
			old, exists := cur[key]
			if exists && old.Equal(svc) {
				if needsStart(old) && !held[key] {
					ops = append(ops, Operation{
						Kind:    types.OpStart,
						AppID:   appID,
						AppName: app.AppName,
						Service: old.Clone(),
					})
				}
				continue
			}

			op := Operation{
				Kind:     types.OpCreate,
				AppID:    appID,
				AppName:  app.AppName,
				Service:  svc.Clone(),
				Recreate: exists,
			}

			if cl, conflict := firstConflict(taken, svc.HostBindings(), key); conflict {
				op.Kind = types.OpConflict
				op.Err = errors.ConflictError(
					fmt.Sprintf("host port %s", cl.binding),
					fmt.Sprintf("%s (%s)", cl.name, cl.owner),
				).WithContext("appId", appID).WithContext("serviceId", svc.ServiceID)
				ops = append(ops, op)
				if exists && !pinned[key] {
					pinned[key] = true
					refused = true
				}
				continue
			}

			taken = append(taken, bindingsOf(svc, key)...)
			if exists {
				recreated[key] = true
			}
			ops = append(ops, op)
		}
	}
	return ops, recreated, refused
}

// needsStart reports whether a container that matches its target should
// be started. A container that never ran is always started; one that
// exited only when the engine would have restarted it.
func needsStart(svc *types.Service) bool {
	switch svc.Status {
	case types.StatusStopped:
		return true
	case types.StatusExited:
		return svc.Config.RestartPolicy == types.RestartAlways ||
			svc.Config.RestartPolicy == types.RestartUnlessStopped
	default:
		return false
	}
}

func bindingsOf(svc *types.Service, key types.ServiceKey) claims {
	var out claims
	for _, b := range svc.HostBindings() {
		out = append(out, claim{binding: b, owner: key, name: svc.ServiceName})
	}
	return out
}

func firstConflict(taken claims, bindings []types.HostBinding, self types.ServiceKey) (claim, bool) {
	for _, b := range bindings {
		if cl, ok := taken.holder(b, self); ok {
			return cl, true
		}
	}
	return claim{}, false
}

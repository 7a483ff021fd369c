package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"appmanager/internal/container"
	"appmanager/internal/types"
)

// Call is one recorded runtime call.
type Call struct {
	Method string
	Target string
}

func (c Call) String() string {
	return c.Method + " " + c.Target
}

type failure struct {
	err       error
	remaining int // <0 means forever
}

// FakeRuntime is an in-memory container.ContainerRuntime with call-order
// instrumentation and failure injection.
type FakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*types.ContainerDescriptor
	volumes    map[string]bool
	logs       map[string][]string
	calls      []Call
	failures   map[Call]*failure
	partial    map[string]error
	nextID     int

	active        int
	maxConcurrent int

	// Delay is slept inside every call, widening race windows in tests
	Delay time.Duration
	// OnCall runs at the start of every call, outside the lock
	OnCall func(method, target string)
}

var _ container.ContainerRuntime = (*FakeRuntime)(nil)

// NewFakeRuntime creates an empty fake runtime
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]*types.ContainerDescriptor),
		volumes:    make(map[string]bool),
		logs:       make(map[string][]string),
		failures:   make(map[Call]*failure),
		partial:    make(map[string]error),
		nextID:     1,
	}
}

// FailWith makes method fail with err for target. times < 0 fails forever.
// Create targets are container names, everything else container ids;
// an empty target matches every call of the method.
func (f *FakeRuntime) FailWith(method, target string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[Call{Method: method, Target: target}] = &failure{err: err, remaining: times}
}

// FailAfterCreate makes the next Create of name leave the container
// behind and return its id together with err, like an engine that
// created the container but failed to connect it to its networks.
func (f *FakeRuntime) FailAfterCreate(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partial[name] = err
}

// ClearFailures removes every injected failure
func (f *FakeRuntime) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[Call]*failure)
	f.partial = make(map[string]error)
}

// Calls returns the recorded calls in order, excluding List and Ping
func (f *FakeRuntime) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, 0, len(f.calls))
	for _, c := range f.calls {
		if c.Method == "List" || c.Method == "Ping" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CallsTo returns the targets of every call to method
func (f *FakeRuntime) CallsTo(method string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c.Target)
		}
	}
	return out
}

// ResetCalls clears the call log
func (f *FakeRuntime) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.maxConcurrent = 0
}

// MaxConcurrent is the highest number of calls observed in flight at once
func (f *FakeRuntime) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxConcurrent
}

// Containers returns a copy of every container, sorted by name
func (f *FakeRuntime) Containers() []types.ContainerDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot()
}

// Volumes returns the names of existing volumes
func (f *FakeRuntime) Volumes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.volumes))
	for v := range f.volumes {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Seed adds a container as if created and started earlier
func (f *FakeRuntime) Seed(appID int, appName string, svc types.Service, status types.ContainerStatus) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.add(appID, appName, &svc)
	f.containers[id].Status = status
	return id
}

func (f *FakeRuntime) add(appID int, appName string, svc *types.Service) string {
	id := fmt.Sprintf("c%04d", f.nextID)
	f.nextID++
	def := svc.Clone()
	def.ContainerID = ""
	def.Status = ""
	f.containers[id] = &types.ContainerDescriptor{
		ID:        id,
		Name:      container.ContainerName(appID, svc),
		Status:    types.StatusStopped,
		AppID:     appID,
		AppName:   appName,
		ServiceID: svc.ServiceID,
		Service:   &def,
	}
	for _, v := range svc.Config.Volumes {
		if v.IsNamed() {
			f.volumes[container.VolumeName(appID, v.Source)] = true
		}
	}
	return id
}

func (f *FakeRuntime) snapshot() []types.ContainerDescriptor {
	out := make([]types.ContainerDescriptor, 0, len(f.containers))
	for _, c := range f.containers {
		cp := *c
		if c.Service != nil {
			svc := c.Service.Clone()
			cp.Service = &svc
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// enter records the call and returns an injected failure, if any.
func (f *FakeRuntime) enter(method, target string) error {
	if f.OnCall != nil {
		f.OnCall(method, target)
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Target: target})
	f.active++
	if f.active > f.maxConcurrent {
		f.maxConcurrent = f.active
	}
	err := f.injected(method, target)
	f.mu.Unlock()

	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	return err
}

func (f *FakeRuntime) leave() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

func (f *FakeRuntime) injected(method, target string) error {
	for _, key := range []Call{{Method: method, Target: target}, {Method: method}} {
		fl, ok := f.failures[key]
		if !ok || fl.remaining == 0 {
			continue
		}
		if fl.remaining > 0 {
			fl.remaining--
		}
		return fl.err
	}
	return nil
}

func notFound(op, id string) error {
	return &container.ContainerError{
		Type:        container.ErrorTypeContainerNotFound,
		Operation:   op,
		ContainerID: id,
		Message:     "no such container",
	}
}

// Unavailable returns an error the runtime wrapper treats as transient
func Unavailable(op string) error {
	return container.NewContainerError(container.ErrorTypeRuntimeUnavailable, op, "cannot connect to the docker daemon", nil)
}

// Rejected returns an error the runtime wrapper treats as permanent
func Rejected(op string) error {
	return container.NewContainerError(container.ErrorTypeConfigError, op, "rejected by engine", nil)
}

// List returns every container
func (f *FakeRuntime) List(ctx context.Context) ([]types.ContainerDescriptor, error) {
	defer f.leave()
	if err := f.enter("List", ""); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(), nil
}

// Create creates a stopped container
func (f *FakeRuntime) Create(ctx context.Context, config *container.CreateConfig) (string, error) {
	name := container.ContainerName(config.AppID, config.Service)
	defer f.leave()
	if err := f.enter("Create", name); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.Name == name {
			return "", container.NewContainerError(container.ErrorTypeConflict, "create", "name already in use: "+name, nil)
		}
	}
	id := f.add(config.AppID, config.AppName, config.Service)
	if err, ok := f.partial[name]; ok {
		delete(f.partial, name)
		return id, err
	}
	return id, nil
}

// Start marks a container running
func (f *FakeRuntime) Start(ctx context.Context, containerID string) error {
	return f.setStatus(ctx, "Start", containerID, types.StatusRunning)
}

// Stop marks a container exited
func (f *FakeRuntime) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	return f.setStatus(ctx, "Stop", containerID, types.StatusExited)
}

func (f *FakeRuntime) setStatus(ctx context.Context, method, id string, status types.ContainerStatus) error {
	defer f.leave()
	if err := f.enter(method, id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return notFound(method, id)
	}
	c.Status = status
	return nil
}

// Remove deletes a container
func (f *FakeRuntime) Remove(ctx context.Context, containerID string) error {
	defer f.leave()
	if err := f.enter("Remove", containerID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; !ok {
		return notFound("remove", containerID)
	}
	delete(f.containers, containerID)
	return nil
}

// Inspect returns one container
func (f *FakeRuntime) Inspect(ctx context.Context, containerID string) (*types.ContainerDescriptor, error) {
	defer f.leave()
	if err := f.enter("Inspect", containerID); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return nil, notFound("inspect", containerID)
	}
	cp := *c
	return &cp, nil
}

// RemoveVolumes deletes named volumes of an app
func (f *FakeRuntime) RemoveVolumes(ctx context.Context, appID int, names []string) error {
	defer f.leave()
	if err := f.enter("RemoveVolumes", fmt.Sprintf("%d", appID)); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		delete(f.volumes, container.VolumeName(appID, n))
	}
	return nil
}

// WriteLog appends output lines to a container's log
func (f *FakeRuntime) WriteLog(containerID string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[containerID] = append(f.logs[containerID], lines...)
}

// Logs returns the last tail lines written with WriteLog
func (f *FakeRuntime) Logs(ctx context.Context, containerID string, tail int) ([]byte, error) {
	defer f.leave()
	if err := f.enter("Logs", containerID); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; !ok {
		return nil, notFound("logs", containerID)
	}
	lines := f.logs[containerID]
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return out, nil
}

// Ping always succeeds unless a failure is injected
func (f *FakeRuntime) Ping(ctx context.Context) error {
	defer f.leave()
	return f.enter("Ping", "")
}

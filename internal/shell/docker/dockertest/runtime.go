// Package dockertest provides an in-memory docker.Client for tests.
package dockertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/artpar/lnlab/internal/shell/docker"
)

// Container is the fake engine's view of one container.
type Container struct {
	ID     string
	Spec   docker.ContainerSpec
	Status docker.ContainerStatus
	Execs  [][]string

	lines []string
	subs  []*io.PipeWriter
}

type fault struct {
	op   string
	name string
	err  error
}

// ExecFunc answers one exec call. It runs with the runtime locked and must
// not call back into the runtime.
type ExecFunc func(cmd []string) docker.ExecResult

// Hold parks the next matching call until Release. See Runtime.Hold.
type Hold struct {
	op      string
	name    string
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

// Reached is closed once a call is parked on the hold.
func (h *Hold) Reached() <-chan struct{} { return h.reached }

// Release lets the parked call proceed. It is safe to call more than once.
func (h *Hold) Release() {
	h.once.Do(func() { close(h.release) })
}

// Runtime is a concurrency-safe fake container engine.
type Runtime struct {
	mu          sync.Mutex
	seq         int
	containers  map[string]*Container // by ID
	names       map[string]string     // name -> ID
	networks    map[string]docker.NetworkSpec
	images      map[string]bool
	calls       map[string]int
	faults      []fault
	probeCodes  map[string]int
	handlers    map[string]ExecFunc
	holds       []*Hold
	unavailable bool
}

// NewRuntime returns an empty runtime with no images present.
func NewRuntime() *Runtime {
	return &Runtime{
		containers: make(map[string]*Container),
		names:      make(map[string]string),
		networks:   make(map[string]docker.NetworkSpec),
		images:     make(map[string]bool),
		calls:      make(map[string]int),
		probeCodes: make(map[string]int),
		handlers:   make(map[string]ExecFunc),
	}
}

// =============================================================================
// Test Controls
// =============================================================================

// SetUnavailable makes every call fail as if the daemon were unreachable.
func (r *Runtime) SetUnavailable(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = down
}

// FailOn makes operation op fail with err for the container or network named
// name. An empty name matches every target.
func (r *Runtime) FailOn(op, name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, fault{op: op, name: name, err: err})
}

// ClearFailures removes every injected failure.
func (r *Runtime) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = nil
}

// SetExecExitCode sets the exit code returned by Exec in the named container.
func (r *Runtime) SetExecExitCode(name string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeCodes[name] = code
}

// HandleExec answers Exec calls in the named container with fn. A nil fn
// restores the default of an empty result with the SetExecExitCode code.
func (r *Runtime) HandleExec(name string, fn ExecFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.handlers, name)
		return
	}
	r.handlers[name] = fn
}

// Hold makes the next op call on the container named name block before it
// runs, until the returned hold is released or the call's ctx is done. An
// empty name matches every container.
func (r *Runtime) Hold(op, name string) *Hold {
	h := &Hold{op: op, name: name, reached: make(chan struct{}), release: make(chan struct{})}
	r.mu.Lock()
	r.holds = append(r.holds, h)
	r.mu.Unlock()
	return h
}

// Calls returns how many times op was invoked.
func (r *Runtime) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// AddImage marks image as present locally.
func (r *Runtime) AddImage(image string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[image] = true
}

// Container returns a copy of the container with the given ID or name.
func (r *Runtime) Container(ref string) (Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.lookup(ref)
	if c == nil {
		return Container{}, false
	}
	out := *c
	out.subs = nil
	return out, true
}

// ContainerNames returns the names of every container, sorted.
func (r *Runtime) ContainerNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NetworkCount returns the number of networks.
func (r *Runtime) NetworkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.networks)
}

// Crash stops the container out of band, as if its process had exited.
func (r *Runtime) Crash(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.lookup(ref); c != nil {
		c.Status = docker.ContainerStatusExited
		closeSubs(c)
	}
}

// Destroy removes the container out of band.
func (r *Runtime) Destroy(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.lookup(ref); c != nil {
		closeSubs(c)
		delete(r.names, c.Spec.Name)
		delete(r.containers, c.ID)
	}
}

// Emit appends a log line to the container and delivers it to followers.
// It blocks until every follower has read the line.
func (r *Runtime) Emit(ref, line string) {
	r.mu.Lock()
	c := r.lookup(ref)
	if c == nil {
		r.mu.Unlock()
		return
	}
	c.lines = append(c.lines, line)
	subs := append([]*io.PipeWriter(nil), c.subs...)
	r.mu.Unlock()

	for _, pw := range subs {
		_, _ = pw.Write([]byte(line + "\n"))
	}
}

// =============================================================================
// Helpers (callers hold r.mu)
// =============================================================================

func (r *Runtime) lookup(ref string) *Container {
	if c, ok := r.containers[ref]; ok {
		return c
	}
	if id, ok := r.names[ref]; ok {
		return r.containers[id]
	}
	return nil
}

func (r *Runtime) enter(op, name string) error {
	r.calls[op]++
	if r.unavailable {
		return docker.NewDockerError(op, "", name, "daemon unreachable", docker.ErrConnectionFailed)
	}
	for _, f := range r.faults {
		if f.op == op && (f.name == "" || f.name == name) {
			return docker.NewDockerError(op, "", name, f.err.Error(), f.err)
		}
	}
	return nil
}

// park blocks on the first hold matching op and the container's name. Each
// hold parks one call. Callers must not hold r.mu.
func (r *Runtime) park(ctx context.Context, op, ref string) error {
	r.mu.Lock()
	name := r.nameOf(ref)
	var h *Hold
	for i, candidate := range r.holds {
		if candidate.op == op && (candidate.name == "" || candidate.name == name) {
			h = candidate
			r.holds = append(r.holds[:i:i], r.holds[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	if h == nil {
		return nil
	}

	close(h.reached)
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) nameOf(ref string) string {
	if c := r.lookup(ref); c != nil {
		return c.Spec.Name
	}
	if spec, ok := r.networks[ref]; ok {
		return spec.Name
	}
	return ref
}

func (r *Runtime) networkID(ref string) (string, bool) {
	if _, ok := r.networks[ref]; ok {
		return ref, true
	}
	for id, spec := range r.networks {
		if spec.Name == ref {
			return id, true
		}
	}
	return "", false
}

func closeSubs(c *Container) {
	for _, pw := range c.subs {
		_ = pw.Close()
	}
	c.subs = nil
}

func notFound(op, entity, ref string) error {
	sentinel := docker.ErrContainerNotFound
	if entity == "network" {
		sentinel = docker.ErrNetworkNotFound
	}
	return docker.NewDockerError(op, entity, ref, entity+" not found", sentinel)
}

// =============================================================================
// docker.Client
// =============================================================================

// Ping implements docker.Client.
func (r *Runtime) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enter("Ping", "")
}

// Close implements docker.Client.
func (r *Runtime) Close() error { return nil }

// CreateNetwork implements docker.Client.
func (r *Runtime) CreateNetwork(ctx context.Context, spec docker.NetworkSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("CreateNetwork", spec.Name); err != nil {
		return "", err
	}
	if _, ok := r.networkID(spec.Name); ok {
		return "", docker.NewDockerError("CreateNetwork", "network", spec.Name, "network with name already exists", fmt.Errorf("conflict"))
	}
	r.seq++
	id := "net-" + strconv.Itoa(r.seq)
	r.networks[id] = spec
	return id, nil
}

// RemoveNetwork implements docker.Client.
func (r *Runtime) RemoveNetwork(ctx context.Context, networkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("RemoveNetwork", r.nameOf(networkID)); err != nil {
		return err
	}
	id, ok := r.networkID(networkID)
	if !ok {
		return notFound("RemoveNetwork", "network", networkID)
	}
	for _, c := range r.containers {
		if c.Status.IsRunning() && (c.Spec.Network == id || c.Spec.Network == r.networks[id].Name) {
			return docker.NewDockerError("RemoveNetwork", "network", networkID, "network has active endpoints", docker.ErrNetworkInUse)
		}
	}
	delete(r.networks, id)
	return nil
}

// NetworkExists implements docker.Client.
func (r *Runtime) NetworkExists(ctx context.Context, networkID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("NetworkExists", r.nameOf(networkID)); err != nil {
		return false, err
	}
	_, ok := r.networkID(networkID)
	return ok, nil
}

// CreateContainer implements docker.Client.
func (r *Runtime) CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("CreateContainer", spec.Name); err != nil {
		return "", err
	}
	if _, exists := r.names[spec.Name]; exists {
		return "", docker.NewDockerError("CreateContainer", "container", spec.Name, "container already exists", docker.ErrContainerAlreadyExists)
	}
	if !r.images[spec.Image] {
		return "", docker.NewDockerError("CreateContainer", "container", spec.Name, "no such image", docker.ErrImageNotFound)
	}
	if spec.Network != "" {
		if _, ok := r.networkID(spec.Network); !ok {
			return "", notFound("CreateContainer", "network", spec.Network)
		}
	}
	r.seq++
	id := fmt.Sprintf("ctr-%04d", r.seq)
	r.containers[id] = &Container{ID: id, Spec: spec, Status: docker.ContainerStatusCreated}
	r.names[spec.Name] = id
	return id, nil
}

// StartContainer implements docker.Client.
func (r *Runtime) StartContainer(ctx context.Context, containerID string) error {
	if err := r.park(ctx, "StartContainer", containerID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("StartContainer", r.nameOf(containerID)); err != nil {
		return err
	}
	c := r.lookup(containerID)
	if c == nil {
		return notFound("StartContainer", "container", containerID)
	}
	if c.Spec.Network != "" {
		if _, ok := r.networkID(c.Spec.Network); !ok {
			return notFound("StartContainer", "network", c.Spec.Network)
		}
	}
	c.Status = docker.ContainerStatusRunning
	return nil
}

// StopContainer implements docker.Client.
func (r *Runtime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("StopContainer", r.nameOf(containerID)); err != nil {
		return err
	}
	c := r.lookup(containerID)
	if c == nil {
		return notFound("StopContainer", "container", containerID)
	}
	if !c.Status.IsRunning() {
		return docker.NewDockerError("StopContainer", "container", containerID, "container is not running", docker.ErrContainerNotRunning)
	}
	c.Status = docker.ContainerStatusExited
	closeSubs(c)
	return nil
}

// KillContainer implements docker.Client.
func (r *Runtime) KillContainer(ctx context.Context, containerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("KillContainer", r.nameOf(containerID)); err != nil {
		return err
	}
	c := r.lookup(containerID)
	if c == nil {
		return notFound("KillContainer", "container", containerID)
	}
	if !c.Status.IsRunning() {
		return docker.NewDockerError("KillContainer", "container", containerID, "container is not running", docker.ErrContainerNotRunning)
	}
	c.Status = docker.ContainerStatusExited
	closeSubs(c)
	return nil
}

// RemoveContainer implements docker.Client.
func (r *Runtime) RemoveContainer(ctx context.Context, containerID string, opts docker.RemoveOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("RemoveContainer", r.nameOf(containerID)); err != nil {
		return err
	}
	c := r.lookup(containerID)
	if c == nil {
		return notFound("RemoveContainer", "container", containerID)
	}
	if c.Status.IsRunning() && !opts.Force {
		return docker.NewDockerError("RemoveContainer", "container", containerID, "container is running", fmt.Errorf("conflict"))
	}
	closeSubs(c)
	delete(r.names, c.Spec.Name)
	delete(r.containers, c.ID)
	return nil
}

// InspectContainer implements docker.Client.
func (r *Runtime) InspectContainer(ctx context.Context, containerID string) (*docker.ContainerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("InspectContainer", r.nameOf(containerID)); err != nil {
		return nil, err
	}
	c := r.lookup(containerID)
	if c == nil {
		return nil, notFound("InspectContainer", "container", containerID)
	}
	return info(c), nil
}

// ListContainers implements docker.Client. Only "label" filters of the form
// key=value are honored.
func (r *Runtime) ListContainers(ctx context.Context, opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("ListContainers", ""); err != nil {
		return nil, err
	}
	var out []docker.ContainerInfo
	for _, c := range r.containers {
		if !opts.All && !c.Status.IsRunning() {
			continue
		}
		if label, ok := opts.Filters["label"]; ok {
			key, value, _ := strings.Cut(label, "=")
			if c.Spec.Labels[key] != value {
				continue
			}
		}
		out = append(out, *info(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func info(c *Container) *docker.ContainerInfo {
	return &docker.ContainerInfo{
		ID:     c.ID,
		Name:   c.Spec.Name,
		Image:  c.Spec.Image,
		Status: c.Status,
		Ports:  append([]docker.PortBinding(nil), c.Spec.Ports...),
		Labels: c.Spec.Labels,
	}
}

// ContainerLogs implements docker.Client. A following stream ends when the
// container stops, is removed, or ctx is done.
func (r *Runtime) ContainerLogs(ctx context.Context, containerID string, opts docker.LogOptions) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("ContainerLogs", r.nameOf(containerID)); err != nil {
		return nil, err
	}
	c := r.lookup(containerID)
	if c == nil {
		return nil, notFound("ContainerLogs", "container", containerID)
	}

	lines := c.lines
	if n, err := strconv.Atoi(opts.Tail); err == nil && n >= 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	var backlog bytes.Buffer
	for _, l := range lines {
		backlog.WriteString(l + "\n")
	}

	if !opts.Follow || !c.Status.IsRunning() {
		return io.NopCloser(&backlog), nil
	}

	pr, pw := io.Pipe()
	c.subs = append(c.subs, pw)
	context.AfterFunc(ctx, func() { _ = pw.CloseWithError(ctx.Err()) })
	return &followReader{backlog: &backlog, pipe: pr}, nil
}

// followReader serves the tail backlog before the live pipe.
type followReader struct {
	backlog *bytes.Buffer
	pipe    *io.PipeReader
}

func (f *followReader) Read(p []byte) (int, error) {
	if f.backlog.Len() > 0 {
		return f.backlog.Read(p)
	}
	return f.pipe.Read(p)
}

func (f *followReader) Close() error {
	return f.pipe.Close()
}

// Exec implements docker.Client. Calls are answered by the container's
// HandleExec function when one is set. Otherwise the result is empty with an
// exit code that defaults to 0 and can be set with SetExecExitCode.
func (r *Runtime) Exec(ctx context.Context, containerID string, cmd []string) (*docker.ExecResult, error) {
	if err := r.park(ctx, "Exec", containerID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("Exec", r.nameOf(containerID)); err != nil {
		return nil, err
	}
	if len(cmd) == 0 {
		return nil, docker.NewDockerError("Exec", "container", containerID, "command is empty", docker.ErrEmptyCommand)
	}
	c := r.lookup(containerID)
	if c == nil {
		return nil, notFound("Exec", "container", containerID)
	}
	if !c.Status.IsRunning() {
		return nil, docker.NewDockerError("Exec", "container", containerID, "container is not running", docker.ErrContainerNotRunning)
	}
	c.Execs = append(c.Execs, append([]string(nil), cmd...))
	if fn := r.handlers[c.Spec.Name]; fn != nil {
		res := fn(append([]string(nil), cmd...))
		return &res, nil
	}
	return &docker.ExecResult{ExitCode: r.probeCodes[c.Spec.Name]}, nil
}

// ImageExists implements docker.Client.
func (r *Runtime) ImageExists(ctx context.Context, image string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("ImageExists", image); err != nil {
		return false, err
	}
	return r.images[image], nil
}

// PullImage implements docker.Client.
func (r *Runtime) PullImage(ctx context.Context, image string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("PullImage", image); err != nil {
		return err
	}
	r.images[image] = true
	return nil
}

var _ docker.Client = (*Runtime)(nil)

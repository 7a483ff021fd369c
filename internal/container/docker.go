package container

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"appmanager/internal/logger"
	"appmanager/internal/types"
)

// DockerOptions configures the Docker runtime
type DockerOptions struct {
	// Host overrides DOCKER_HOST when set
	Host string
	// PullImages pulls images that are missing locally before create
	PullImages bool
}

// DockerRuntime implements ContainerRuntime against the Docker Engine API
type DockerRuntime struct {
	cli        *client.Client
	pullImages bool
}

// NewDockerRuntime creates a new Docker runtime
func NewDockerRuntime(opts DockerOptions) (*DockerRuntime, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli, pullImages: opts.PullImages}, nil
}

// Close releases the underlying client
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// Ping checks that the engine answers
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return classify("ping", "", err)
	}
	return nil
}

// List returns every managed container
func (r *DockerRuntime) List(ctx context.Context) ([]types.ContainerDescriptor, error) {
	containers, err := r.cli.ContainerList(ctx, dockercontainer.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, classify("list", "", err)
	}

	result := make([]types.ContainerDescriptor, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		desc, ok := describe(c.ID, name, string(c.State), c.Labels)
		if !ok {
			continue
		}
		result = append(result, desc)
	}
	return result, nil
}

// Inspect returns the current view of one container
func (r *DockerRuntime) Inspect(ctx context.Context, containerID string) (*types.ContainerDescriptor, error) {
	resp, err := r.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, classify("inspect", containerID, err)
	}

	var labels map[string]string
	if resp.Config != nil {
		labels = resp.Config.Labels
	}
	state := ""
	if resp.State != nil {
		state = string(resp.State.Status)
	}

	desc, ok := describe(resp.ID, strings.TrimPrefix(resp.Name, "/"), state, labels)
	if !ok {
		return nil, NewContainerError(ErrorTypeContainerNotFound, "inspect",
			"container is not managed by appmanager", nil)
	}
	return &desc, nil
}

func describe(id, name, state string, labels map[string]string) (types.ContainerDescriptor, bool) {
	appID, serviceID, ok := ParseLabels(labels)
	if !ok {
		return types.ContainerDescriptor{}, false
	}

	desc := types.ContainerDescriptor{
		ID:        id,
		Name:      name,
		Status:    types.ParseContainerStatus(state),
		AppID:     appID,
		AppName:   labels[LabelAppName],
		ServiceID: serviceID,
	}

	if raw := labels[LabelService]; raw != "" {
		var svc types.Service
		if err := json.Unmarshal([]byte(raw), &svc); err != nil {
			logger.WithFields(logger.Fields{
				"container_id": id,
				"label":        LabelService,
			}).WithError(err).Warn("Ignoring unreadable service label")
		} else {
			desc.Service = &svc
		}
	}
	return desc, true
}

// Create creates the container for a service without starting it
func (r *DockerRuntime) Create(ctx context.Context, config *CreateConfig) (string, error) {
	svc := config.Service
	name := ContainerName(config.AppID, svc)

	if err := r.ensureImage(ctx, svc.ImageRef()); err != nil {
		return "", err
	}

	labels, err := containerLabels(config)
	if err != nil {
		return "", NewContainerError(ErrorTypeConfigError, "create", "failed to encode service label", err)
	}

	exposed, bindings, err := portBindings(svc.Config.Ports)
	if err != nil {
		return "", NewContainerError(ErrorTypeConfigError, "create", "invalid port mapping", err)
	}

	containerCfg := &dockercontainer.Config{
		Image:        svc.ImageRef(),
		Env:          environment(svc.Config.Environment),
		Labels:       labels,
		ExposedPorts: exposed,
	}
	if len(svc.Config.Command) > 0 {
		containerCfg.Cmd = svc.Config.Command
	}

	hostCfg := &dockercontainer.HostConfig{
		PortBindings:  bindings,
		Mounts:        mounts(config.AppID, svc.Config.Volumes),
		RestartPolicy: dockercontainer.RestartPolicy{Name: dockercontainer.RestartPolicyMode(svc.Config.RestartPolicy)},
	}

	var netCfg *network.NetworkingConfig
	networks := make([]string, 0, len(svc.Config.Networks))
	for _, n := range svc.Config.Networks {
		scoped, err := r.ensureNetwork(ctx, config.AppID, n)
		if err != nil {
			return "", err
		}
		networks = append(networks, scoped)
	}
	if len(networks) > 0 {
		hostCfg.NetworkMode = dockercontainer.NetworkMode(networks[0])
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				networks[0]: {Aliases: []string{svc.ServiceName}},
			},
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", classify("create", name, err)
	}
	for _, w := range resp.Warnings {
		logger.WithFields(logger.Fields{"container": name}).Warn(w)
	}

	for _, n := range networks[min(1, len(networks)):] {
		if err := r.cli.NetworkConnect(ctx, n, resp.ID, &network.EndpointSettings{Aliases: []string{svc.ServiceName}}); err != nil {
			return resp.ID, classify("network-connect", resp.ID, err)
		}
	}

	return resp.ID, nil
}

// Start starts a container by ID
func (r *DockerRuntime) Start(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerStart(ctx, containerID, dockercontainer.StartOptions{}); err != nil {
		return classify("start", containerID, err)
	}
	return nil
}

// Stop stops a container, waiting up to timeout before killing it
func (r *DockerRuntime) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := r.cli.ContainerStop(ctx, containerID, dockercontainer.StopOptions{Timeout: &secs}); err != nil {
		return classify("stop", containerID, err)
	}
	return nil
}

// Remove removes a container by ID. Volumes are left in place.
func (r *DockerRuntime) Remove(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerRemove(ctx, containerID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		return classify("remove", containerID, err)
	}
	return nil
}

// Logs returns the tail of a container's output. Managed containers run
// without a TTY, so the stream is multiplexed and gets demuxed here.
func (r *DockerRuntime) Logs(ctx context.Context, containerID string, tail int) ([]byte, error) {
	opts := dockercontainer.LogsOptions{ShowStdout: true, ShowStderr: true, Timestamps: true}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}

	rc, err := r.cli.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return nil, classify("logs", containerID, err)
	}
	defer rc.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		return nil, classify("logs", containerID, err)
	}
	return out.Bytes(), nil
}

// RemoveVolumes deletes the named volumes of an app. Missing volumes are ignored.
func (r *DockerRuntime) RemoveVolumes(ctx context.Context, appID int, names []string) error {
	for _, n := range names {
		volume := VolumeName(appID, n)
		if err := r.cli.VolumeRemove(ctx, volume, false); err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return classify("volume-remove", volume, err)
		}
	}
	return nil
}

func (r *DockerRuntime) ensureImage(ctx context.Context, ref string) error {
	if _, err := r.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return classify("image-inspect", "", err)
	}

	if !r.pullImages {
		return NewContainerError(ErrorTypeImageNotFound, "pull", "image not present and pulling is disabled: "+ref, nil)
	}

	logger.WithField("image", ref).Info("Pulling image")
	reader, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return classify("pull", "", err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return classify("pull", "", err)
	}
	return nil
}

func (r *DockerRuntime) ensureNetwork(ctx context.Context, appID int, name string) (string, error) {
	switch name {
	case "host", "bridge", "none":
		return name, nil
	}

	scoped := NetworkName(appID, name)
	if _, err := r.cli.NetworkInspect(ctx, scoped, network.InspectOptions{}); err == nil {
		return scoped, nil
	} else if !errdefs.IsNotFound(err) {
		return "", classify("network-inspect", "", err)
	}

	_, err := r.cli.NetworkCreate(ctx, scoped, network.CreateOptions{
		Labels: map[string]string{
			LabelManaged: "true",
			LabelAppID:   strconv.Itoa(appID),
		},
	})
	if err != nil && !errdefs.IsConflict(err) && !errdefs.IsAlreadyExists(err) {
		return "", classify("network-create", "", err)
	}
	return scoped, nil
}

func containerLabels(config *CreateConfig) (map[string]string, error) {
	svc := config.Service.Clone()
	svc.ContainerID = ""
	svc.Status = ""
	encoded, err := json.Marshal(svc)
	if err != nil {
		return nil, err
	}

	labels := make(map[string]string, len(svc.Config.Labels)+6)
	for k, v := range svc.Config.Labels {
		labels[k] = v
	}
	labels[LabelManaged] = "true"
	labels[LabelAppID] = strconv.Itoa(config.AppID)
	labels[LabelAppName] = config.AppName
	labels[LabelServiceID] = strconv.Itoa(svc.ServiceID)
	labels[LabelServiceName] = svc.ServiceName
	labels[LabelService] = string(encoded)
	return labels, nil
}

func environment(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func portBindings(ports []types.PortMapping) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, err
		}
		exposed[port] = struct{}{}
		if p.HostPort == 0 {
			continue
		}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   p.HostIP,
			HostPort: strconv.Itoa(p.HostPort),
		})
	}
	return exposed, bindings, nil
}

func mounts(appID int, volumes []types.VolumeMount) []mount.Mount {
	out := make([]mount.Mount, 0, len(volumes))
	for _, v := range volumes {
		m := mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		if v.IsNamed() {
			m.Type = mount.TypeVolume
			m.Source = VolumeName(appID, v.Source)
		}
		out = append(out, m)
	}
	return out
}

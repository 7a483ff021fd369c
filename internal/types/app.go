// Package types holds the data model shared by the state store, the diff
// engine, the reconciler and the device API.
package types

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// ConfigVersion is the current ServiceConfig schema version.
const ConfigVersion = 1

// Restart policies understood by the runtime.
const (
	RestartNo            = "no"
	RestartAlways        = "always"
	RestartUnlessStopped = "unless-stopped"
	RestartOnFailure     = "on-failure"
)

// Application is a logical group of services sharing an appId.
type Application struct {
	AppID    int       `json:"appId" yaml:"appId"`
	AppName  string    `json:"appName" yaml:"appName"`
	Services []Service `json:"services" yaml:"services"`
}

// Service is one deployable container definition.
// ContainerID and Status are only populated in the current snapshot.
type Service struct {
	ServiceID   int             `json:"serviceId" yaml:"serviceId"`
	ServiceName string          `json:"serviceName" yaml:"serviceName"`
	ImageName   string          `json:"imageName" yaml:"imageName"`
	Config      ServiceConfig   `json:"config" yaml:"config"`
	ContainerID string          `json:"containerId,omitempty" yaml:"containerId,omitempty"`
	Status      ContainerStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// ServiceConfig is the closed container configuration of a service.
type ServiceConfig struct {
	Version       int               `json:"version,omitempty" yaml:"version,omitempty"`
	Image         string            `json:"image,omitempty" yaml:"image,omitempty"`
	Ports         []PortMapping     `json:"ports,omitempty" yaml:"ports,omitempty"`
	Environment   map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Volumes       []VolumeMount     `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Networks      []string          `json:"networks,omitempty" yaml:"networks,omitempty"`
	RestartPolicy string            `json:"restartPolicy,omitempty" yaml:"restartPolicy,omitempty"`
	Command       []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Labels        map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// PortMapping binds a container port to a host port.
type PortMapping struct {
	HostIP        string `json:"hostIp,omitempty" yaml:"hostIp,omitempty"`
	HostPort      int    `json:"hostPort" yaml:"hostPort"`
	ContainerPort int    `json:"containerPort" yaml:"containerPort"`
	Protocol      string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

// VolumeMount mounts a named volume or host path into the container.
// A Source without a leading slash names a volume scoped to the app.
type VolumeMount struct {
	Source   string `json:"source" yaml:"source"`
	Target   string `json:"target" yaml:"target"`
	ReadOnly bool   `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// IsNamed reports whether the mount refers to a named volume.
func (v VolumeMount) IsNamed() bool {
	return !strings.HasPrefix(v.Source, "/")
}

// HostBinding identifies the host-side resource a port mapping claims.
type HostBinding struct {
	HostIP   string
	HostPort int
	Protocol string
}

func (b HostBinding) String() string {
	ip := b.HostIP
	if ip == "" {
		ip = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d/%s", ip, b.HostPort, b.Protocol)
}

// Overlaps reports whether two bindings contend for the same host socket.
// A wildcard address overlaps every address on the same port.
func (b HostBinding) Overlaps(o HostBinding) bool {
	if b.HostPort != o.HostPort || b.Protocol != o.Protocol {
		return false
	}
	if isWildcard(b.HostIP) || isWildcard(o.HostIP) {
		return true
	}
	return b.HostIP == o.HostIP
}

func isWildcard(ip string) bool {
	return ip == "" || ip == "0.0.0.0" || ip == "::"
}

// Binding returns the host binding of p, or false when p publishes nothing.
func (p PortMapping) Binding() (HostBinding, bool) {
	if p.HostPort == 0 {
		return HostBinding{}, false
	}
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return HostBinding{HostIP: p.HostIP, HostPort: p.HostPort, Protocol: proto}, true
}

func (p PortMapping) String() string {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	if p.HostIP != "" {
		return fmt.Sprintf("%s:%d:%d/%s", p.HostIP, p.HostPort, p.ContainerPort, proto)
	}
	return fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, proto)
}

// ParsePortMapping parses a Docker port string like "8080:80" or
// "127.0.0.1:8080:80/udp". A bare "80" publishes the same port on the host.
func ParsePortMapping(s string) (PortMapping, error) {
	pm := PortMapping{Protocol: "tcp"}
	spec := strings.TrimSpace(s)

	if idx := strings.Index(spec, "/"); idx != -1 {
		pm.Protocol = strings.ToLower(spec[idx+1:])
		spec = spec[:idx]
	}

	var err error
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 1:
		pm.ContainerPort, err = strconv.Atoi(parts[0])
		pm.HostPort = pm.ContainerPort
	case 2:
		if pm.HostPort, err = strconv.Atoi(parts[0]); err == nil {
			pm.ContainerPort, err = strconv.Atoi(parts[1])
		}
	case 3:
		pm.HostIP = parts[0]
		if pm.HostPort, err = strconv.Atoi(parts[1]); err == nil {
			pm.ContainerPort, err = strconv.Atoi(parts[2])
		}
	default:
		return PortMapping{}, fmt.Errorf("invalid port mapping %q", s)
	}
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid port mapping %q: %w", s, err)
	}
	return pm, nil
}

// Key returns the diff identity of the service within appID.
func (s *Service) Key(appID int) ServiceKey {
	return ServiceKey{AppID: appID, ServiceID: s.ServiceID}
}

// ImageRef returns the image reference to run.
func (s *Service) ImageRef() string {
	if s.Config.Image != "" {
		return s.Config.Image
	}
	return s.ImageName
}

// Equal reports whether two services describe the same container.
// Only imageName and config take part; names and observed fields do not.
func (s *Service) Equal(o *Service) bool {
	return s.ImageName == o.ImageName && s.Config.Equal(&o.Config)
}

// Equal compares two configs field by field. Nil and empty collections
// are treated as equal.
func (c *ServiceConfig) Equal(o *ServiceConfig) bool {
	return c.Version == o.Version &&
		c.Image == o.Image &&
		c.RestartPolicy == o.RestartPolicy &&
		slices.Equal(c.Ports, o.Ports) &&
		slices.Equal(c.Volumes, o.Volumes) &&
		slices.Equal(c.Networks, o.Networks) &&
		slices.Equal(c.Command, o.Command) &&
		maps.Equal(c.Environment, o.Environment) &&
		maps.Equal(c.Labels, o.Labels)
}

// HostBindings lists every host port the service publishes.
func (s *Service) HostBindings() []HostBinding {
	var out []HostBinding
	for _, p := range s.Config.Ports {
		if b, ok := p.Binding(); ok {
			out = append(out, b)
		}
	}
	return out
}

// Clone returns a deep copy of the service.
func (s *Service) Clone() Service {
	out := *s
	out.Config = s.Config.Clone()
	return out
}

// Clone returns a deep copy of the config.
func (c *ServiceConfig) Clone() ServiceConfig {
	out := *c
	out.Ports = slices.Clone(c.Ports)
	out.Volumes = slices.Clone(c.Volumes)
	out.Networks = slices.Clone(c.Networks)
	out.Command = slices.Clone(c.Command)
	out.Environment = maps.Clone(c.Environment)
	out.Labels = maps.Clone(c.Labels)
	return out
}

// Service looks a service up by id.
func (a *Application) Service(serviceID int) (*Service, bool) {
	for i := range a.Services {
		if a.Services[i].ServiceID == serviceID {
			return &a.Services[i], true
		}
	}
	return nil, false
}

// ServiceByName looks a service up by name.
func (a *Application) ServiceByName(name string) (*Service, bool) {
	for i := range a.Services {
		if a.Services[i].ServiceName == name {
			return &a.Services[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the application.
func (a *Application) Clone() *Application {
	out := &Application{AppID: a.AppID, AppName: a.AppName}
	if a.Services != nil {
		out.Services = make([]Service, len(a.Services))
		for i := range a.Services {
			out.Services[i] = a.Services[i].Clone()
		}
	}
	return out
}

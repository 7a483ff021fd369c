package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"appmanager/internal/constants"
	"appmanager/internal/errors"
	"appmanager/internal/types"
)

var (
	// serviceNameRegex validates service names, which become part of container names
	serviceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

	// volumeNameRegex validates named volumes
	volumeNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

	// envVarKeyRegex validates environment variable keys
	envVarKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

	// imageRefRegex is a loose check for image references
	imageRefRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_./:@-]*$`)
)

var restartPolicies = map[string]bool{
	types.RestartNo:            true,
	types.RestartAlways:        true,
	types.RestartUnlessStopped: true,
	types.RestartOnFailure:     true,
}

// Snapshot validates every application in snap.
func Snapshot(snap *types.StateSnapshot) error {
	if snap == nil {
		return errors.ValidationFailed("apps", "null", "state document is required")
	}
	for id, app := range snap.Apps {
		if app == nil {
			return errors.ValidationFailed("apps", strconv.Itoa(id), "application cannot be null")
		}
		if app.AppID != id {
			return errors.ValidationFailed("appId", strconv.Itoa(app.AppID),
				fmt.Sprintf("does not match key %d", id))
		}
		if err := Application(app); err != nil {
			return err
		}
	}
	return nil
}

// Application validates an application and its services.
func Application(app *types.Application) error {
	if app.AppID <= 0 {
		return errors.ValidationFailed("appId", strconv.Itoa(app.AppID), "must be a positive integer")
	}

	ids := make(map[int]bool)
	names := make(map[string]bool)
	for i := range app.Services {
		svc := &app.Services[i]
		if ids[svc.ServiceID] {
			return errors.ValidationFailed("serviceId", strconv.Itoa(svc.ServiceID),
				fmt.Sprintf("duplicate in app %d", app.AppID))
		}
		ids[svc.ServiceID] = true

		if names[svc.ServiceName] {
			return errors.ValidationFailed("serviceName", svc.ServiceName,
				fmt.Sprintf("duplicate in app %d", app.AppID))
		}
		names[svc.ServiceName] = true

		if err := Service(svc); err != nil {
			if ae, ok := errors.As(err); ok {
				ae.WithContext("appId", app.AppID).WithContext("serviceId", svc.ServiceID)
			}
			return err
		}
	}
	return nil
}

// Service validates a single service definition.
func Service(svc *types.Service) error {
	if svc.ServiceID <= 0 {
		return errors.ValidationFailed("serviceId", strconv.Itoa(svc.ServiceID), "must be a positive integer")
	}
	if !serviceNameRegex.MatchString(svc.ServiceName) {
		return errors.ValidationFailed("serviceName", svc.ServiceName,
			"must start with a letter or digit and contain only letters, digits, '_', '.' and '-'")
	}
	if err := ImageRef(svc.ImageName); err != nil {
		return err
	}
	return Config(&svc.Config)
}

// Config validates a service config.
func Config(cfg *types.ServiceConfig) error {
	if cfg.Version > types.ConfigVersion {
		return errors.ValidationFailed("config.version", strconv.Itoa(cfg.Version), "unsupported config version")
	}
	if cfg.Image != "" {
		if err := ImageRef(cfg.Image); err != nil {
			return err
		}
	}
	if cfg.RestartPolicy != "" && !restartPolicies[cfg.RestartPolicy] {
		return errors.ValidationFailed("config.restartPolicy", cfg.RestartPolicy,
			"must be one of no, always, unless-stopped, on-failure")
	}

	seen := make(map[types.HostBinding]bool)
	for _, p := range cfg.Ports {
		if err := Port(p); err != nil {
			return err
		}
		if b, ok := p.Binding(); ok {
			if seen[b] {
				return errors.InvalidPort(p.String(), "host port published twice")
			}
			seen[b] = true
		}
	}

	for key := range cfg.Environment {
		if !envVarKeyRegex.MatchString(key) {
			return errors.ValidationFailed("config.environment", key,
				"must contain only letters, numbers, '.' and underscores")
		}
	}

	targets := make(map[string]bool)
	for _, v := range cfg.Volumes {
		if err := Volume(v); err != nil {
			return err
		}
		if targets[v.Target] {
			return errors.ValidationFailed("config.volumes.target", v.Target, "mounted twice")
		}
		targets[v.Target] = true
	}

	for _, n := range cfg.Networks {
		if strings.TrimSpace(n) == "" {
			return errors.ValidationFailed("config.networks", n, "cannot be empty")
		}
	}
	return nil
}

// ImageRef validates an image reference.
func ImageRef(ref string) error {
	if ref == "" {
		return errors.ValidationFailed("imageName", ref, "cannot be empty")
	}
	if len(ref) > 255 || !imageRefRegex.MatchString(ref) {
		return errors.ValidationFailed("imageName", ref, "not a valid image reference")
	}
	return nil
}

// Port validates a single port mapping.
func Port(p types.PortMapping) error {
	if err := PortNumber(p.ContainerPort); err != nil {
		return err
	}
	if p.HostPort != 0 {
		if err := PortNumber(p.HostPort); err != nil {
			return err
		}
	}
	switch p.Protocol {
	case "", "tcp", "udp":
	default:
		return errors.InvalidPort(p.String(), "protocol must be tcp or udp")
	}
	return nil
}

// PortNumber validates a single port number
func PortNumber(port int) error {
	if port < constants.MinPortNumber || port > constants.MaxPortNumber {
		return errors.InvalidPort(port, "must be between 1 and 65535")
	}
	return nil
}

// Volume validates a volume mount.
func Volume(v types.VolumeMount) error {
	if v.Source == "" {
		return errors.ValidationFailed("config.volumes.source", v.Source, "cannot be empty")
	}
	if !filepath.IsAbs(v.Target) {
		return errors.ValidationFailed("config.volumes.target", v.Target, "must be an absolute path")
	}
	if v.IsNamed() {
		if !volumeNameRegex.MatchString(v.Source) {
			return errors.ValidationFailed("config.volumes.source", v.Source, "not a valid volume name")
		}
		return nil
	}
	if strings.Contains(v.Source, "..") {
		return errors.ValidationFailed("config.volumes.source", v.Source, "path traversal detected")
	}
	return nil
}

// Normalize fills defaults so that equal intent produces equal configs.
func Normalize(app *types.Application) {
	for i := range app.Services {
		cfg := &app.Services[i].Config
		if cfg.Version == 0 {
			cfg.Version = types.ConfigVersion
		}
		if cfg.Image == "" {
			cfg.Image = app.Services[i].ImageName
		}
		if cfg.RestartPolicy == "" {
			cfg.RestartPolicy = types.RestartAlways
		}
		for j := range cfg.Ports {
			if cfg.Ports[j].Protocol == "" {
				cfg.Ports[j].Protocol = "tcp"
			}
		}
	}
}

// Package compose converts docker-compose files into target applications.
package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"appmanager/internal/types"
)

// ComposeFile represents a docker-compose.yaml file
type ComposeFile struct {
	Version  string                     `yaml:"version"`
	Name     string                     `yaml:"name"`
	Services map[string]*ComposeService `yaml:"services"`
	Networks map[string]*ComposeNetwork `yaml:"networks"`
	Volumes  map[string]*ComposeVolume  `yaml:"volumes"`

	// order lists service names as they appear in the file
	order   []string
	baseDir string
}

// ComposeService represents a service in docker-compose.yaml
type ComposeService struct {
	Name          string        // Service name from compose
	Image         string        `yaml:"image"`
	Build         yaml.Node     `yaml:"build"`
	Command       StringOrSlice `yaml:"command"`
	Environment   Environment   `yaml:"environment"`
	Volumes       []Volume      `yaml:"volumes"`
	Ports         []Port        `yaml:"ports"`
	Networks      NameList      `yaml:"networks"`
	Restart       string        `yaml:"restart"`
	Labels        Environment   `yaml:"labels"`
	ContainerName string        `yaml:"container_name"`
}

// ComposeNetwork represents a network definition
type ComposeNetwork struct {
	Driver string `yaml:"driver"`
}

// ComposeVolume represents a volume definition
type ComposeVolume struct {
	Driver string `yaml:"driver"`
}

// StringOrSlice can be either a string or a slice of strings
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalYAML(value *yaml.Node) error {
	var multi []string
	err := value.Decode(&multi)
	if err != nil {
		var single string
		err := value.Decode(&single)
		if err != nil {
			return err
		}
		*s = strings.Fields(single)
	} else {
		*s = multi
	}
	return nil
}

// Environment can be either a map or a slice of KEY=VALUE strings
type Environment map[string]string

func (e *Environment) UnmarshalYAML(value *yaml.Node) error {
	*e = make(map[string]string)

	// Try to decode as a map first
	var envMap map[string]string
	if err := value.Decode(&envMap); err == nil {
		for k, v := range envMap {
			(*e)[k] = v
		}
		return nil
	}

	// Try to decode as a slice
	var envSlice []string
	if err := value.Decode(&envSlice); err == nil {
		for _, env := range envSlice {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				(*e)[parts[0]] = parts[1]
			} else {
				(*e)[parts[0]] = ""
			}
		}
		return nil
	}

	return fmt.Errorf("line %d: must be a map or slice of strings", value.Line)
}

// NameList is a list of names written either as a sequence or as the keys
// of a mapping
type NameList []string

func (n *NameList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		*n = names
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			*n = append(*n, value.Content[i].Value)
		}
	default:
		return fmt.Errorf("line %d: must be a list or map of names", value.Line)
	}
	return nil
}

// Volume accepts the short "src:dst[:ro]" form and the long mapping form
type Volume struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only"`
}

func (v *Volume) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		type plain Volume
		return value.Decode((*plain)(v))
	}

	var short string
	if err := value.Decode(&short); err != nil {
		return err
	}
	parts := strings.Split(short, ":")
	if len(parts) < 2 {
		return fmt.Errorf("line %d: anonymous volume %q is not supported", value.Line, short)
	}
	v.Source = parts[0]
	v.Target = parts[1]
	if len(parts) > 2 && parts[2] == "ro" {
		v.ReadOnly = true
	}
	return nil
}

// Port accepts the short "host:container/proto" form and the long mapping form
type Port struct {
	types.PortMapping
}

func (p *Port) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		var long struct {
			Target    int    `yaml:"target"`
			Published int    `yaml:"published"`
			HostIP    string `yaml:"host_ip"`
			Protocol  string `yaml:"protocol"`
		}
		if err := value.Decode(&long); err != nil {
			return err
		}
		p.PortMapping = types.PortMapping{
			HostIP:        long.HostIP,
			HostPort:      long.Published,
			ContainerPort: long.Target,
			Protocol:      long.Protocol,
		}
		return nil
	}

	var short string
	if err := value.Decode(&short); err != nil {
		return err
	}
	mapping, err := types.ParsePortMapping(short)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	p.PortMapping = mapping
	return nil
}

// Parse parses compose YAML. Relative bind mounts resolve against baseDir.
func Parse(data []byte, baseDir string) (*ComposeFile, error) {
	var compose ComposeFile
	if err := yaml.Unmarshal(data, &compose); err != nil {
		return nil, fmt.Errorf("parsing compose file: %w", err)
	}

	// Maps lose the file order, so walk the raw document for it
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing compose file: %w", err)
	}
	compose.order = serviceOrder(&doc)
	compose.baseDir = baseDir

	for name, service := range compose.Services {
		if service == nil {
			return nil, fmt.Errorf("service %s is empty", name)
		}
		service.Name = name
	}

	return &compose, nil
}

// ParseComposeFile reads and parses a docker-compose.yaml file
func ParseComposeFile(path string) (*ComposeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading compose file: %w", err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return Parse(data, abs)
}

func serviceOrder(doc *yaml.Node) []string {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "services" {
			continue
		}
		services := root.Content[i+1]
		var names []string
		for j := 0; j+1 < len(services.Content); j += 2 {
			names = append(names, services.Content[j].Value)
		}
		return names
	}
	return nil
}

// GetServiceNames returns all service names in file order
func (c *ComposeFile) GetServiceNames() []string {
	if len(c.order) == len(c.Services) {
		return append([]string(nil), c.order...)
	}
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToApplication converts the file into an application. Service ids are
// assigned from 1 in file order, so re-importing an edited file keeps the
// identity of services that did not move.
func (c *ComposeFile) ToApplication(appID int, appName string) (*types.Application, error) {
	if appName == "" {
		appName = c.Name
	}
	app := &types.Application{AppID: appID, AppName: appName}

	for i, name := range c.GetServiceNames() {
		svc, err := c.toService(c.Services[name])
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}
		svc.ServiceID = i + 1
		app.Services = append(app.Services, *svc)
	}
	return app, nil
}

func (c *ComposeFile) toService(cs *ComposeService) (*types.Service, error) {
	if cs.Image == "" {
		if !cs.Build.IsZero() {
			return nil, fmt.Errorf("build is not supported, an image is required")
		}
		return nil, fmt.Errorf("image is required")
	}

	cfg := types.ServiceConfig{
		Version:       types.ConfigVersion,
		Command:       cs.Command,
		RestartPolicy: cs.Restart,
		Networks:      cs.Networks,
	}
	if len(cs.Environment) > 0 {
		cfg.Environment = cs.Environment
	}
	if len(cs.Labels) > 0 {
		cfg.Labels = cs.Labels
	}
	for _, p := range cs.Ports {
		cfg.Ports = append(cfg.Ports, p.PortMapping)
	}
	for _, v := range cs.Volumes {
		source := v.Source
		if strings.HasPrefix(source, "./") || strings.HasPrefix(source, "../") || source == "." {
			source = filepath.Join(c.baseDir, source)
		} else if strings.HasPrefix(source, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			source = filepath.Join(home, source[2:])
		}
		cfg.Volumes = append(cfg.Volumes, types.VolumeMount{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	return &types.Service{
		ServiceName: cs.Name,
		ImageName:   cs.Image,
		Config:      cfg,
	}, nil
}

// LoadApplication parses the compose file at path into an application
func LoadApplication(path string, appID int, appName string) (*types.Application, error) {
	compose, err := ParseComposeFile(path)
	if err != nil {
		return nil, err
	}
	return compose.ToApplication(appID, appName)
}

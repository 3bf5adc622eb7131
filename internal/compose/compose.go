package compose

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the compose-style document the managed Windows container is
// declared in. Only the fields winbox touches are modeled; everything else a
// user adds by hand survives load/save untouched at the service level it was
// written in.
type Definition struct {
	Name     string              `yaml:"name,omitempty"`
	Services map[string]*Service `yaml:"services"`
}

// Service is one container declaration.
type Service struct {
	Image           string            `yaml:"image"`
	ContainerName   string            `yaml:"container_name,omitempty"`
	Environment     map[string]string `yaml:"environment,omitempty"`
	Ports           []PortDecl        `yaml:"ports,omitempty"`
	Volumes         []string          `yaml:"volumes,omitempty"`
	Devices         []string          `yaml:"devices,omitempty"`
	CapAdd          []string          `yaml:"cap_add,omitempty"`
	StopGracePeriod string            `yaml:"stop_grace_period,omitempty"`
	Restart         string            `yaml:"restart,omitempty"`
}

// windowsService is the conventional name of the managed guest service.
const windowsService = "windows"

// UnmarshalYAML accepts both declaration forms: a scalar is the compact
// short form, a mapping is the long form and stays opaque.
func (d *PortDecl) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		d.Short = s
		return nil
	case yaml.MappingNode:
		var m map[string]interface{}
		if err := value.Decode(&m); err != nil {
			return err
		}
		d.Long = m
		return nil
	default:
		return fmt.Errorf("line %d: port declaration must be a string or a mapping", value.Line)
	}
}

// MarshalYAML emits the form the declaration was read in.
func (d PortDecl) MarshalYAML() (interface{}, error) {
	if d.Long != nil {
		return d.Long, nil
	}
	return d.Short, nil
}

// Load reads and parses a definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse definition %s: %w", path, err)
	}
	if len(def.Services) == 0 {
		return nil, fmt.Errorf("definition %s declares no services", path)
	}
	return &def, nil
}

// Save writes the definition back. Mutations made through the port mapper
// persist this way, so renegotiated host ports survive a daemon restart.
func (d *Definition) Save(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write definition: %w", err)
	}
	return os.Rename(tmp, path)
}

// Guest returns the managed guest service: the one named "windows", or the
// sole service when there is exactly one.
func (d *Definition) Guest() (*Service, error) {
	if svc, ok := d.Services[windowsService]; ok {
		return svc, nil
	}
	if len(d.Services) == 1 {
		for _, svc := range d.Services {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("definition has no %q service among %d services", windowsService, len(d.Services))
}

// PortMapper builds the mapper from the guest service's declared ports.
// A malformed declaration makes this fail; the definition is unusable until
// it is fixed.
func (d *Definition) PortMapper() (*PortMapper, error) {
	svc, err := d.Guest()
	if err != nil {
		return nil, err
	}
	return NewPortMapper(svc.Ports)
}

// SetPorts replaces the guest service's declared ports, typically with
// mapper.Decls() after a mutation.
func (d *Definition) SetPorts(decls []PortDecl) error {
	svc, err := d.Guest()
	if err != nil {
		return err
	}
	svc.Ports = decls
	return nil
}

// Default returns the definition written on first run: the Windows guest
// image with the web viewer, RDP over tcp and udp, and the guest API port
// published 1:1.
func Default(imageRef, containerName string, guestAPIPort, rdpPort int) *Definition {
	return &Definition{
		Name: "winbox",
		Services: map[string]*Service{
			windowsService: {
				Image:         imageRef,
				ContainerName: containerName,
				Environment: map[string]string{
					"VERSION": "11",
				},
				Ports: []PortDecl{
					{Short: "127.0.0.1:8006:8006"},
					{Short: fmt.Sprintf("127.0.0.1:%d:%d/tcp", rdpPort, rdpPort)},
					{Short: fmt.Sprintf("127.0.0.1:%d:%d/udp", rdpPort, rdpPort)},
					{Short: fmt.Sprintf("127.0.0.1:%d:%d/tcp", guestAPIPort, guestAPIPort)},
				},
				Devices:         []string{"/dev/kvm"},
				CapAdd:          []string{"NET_ADMIN"},
				StopGracePeriod: "2m",
				Restart:         "on-failure",
			},
		},
	}
}

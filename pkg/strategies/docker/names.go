// Package docker implements the docker deployment strategy, its default
// lifecycle hooks (image build, network management, container tidy/logs,
// status wait) and the container stats monitoring strategy, all driven
// through the Docker Engine API.
package docker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"
)

var (
	invalidNameChars = regexp.MustCompile(`[^a-z0-9_.-]`)
	repeatedHyphens  = regexp.MustCompile(`-{2,}`)
)

// SanitizeName converts a string into a valid Docker container name:
// lowercase, invalid characters replaced with hyphens, repeated hyphens
// collapsed, leading/trailing hyphens removed, length capped at 255. The
// function is idempotent.
func SanitizeName(name string) string {
	name = strings.ToLower(name)
	name = invalidNameChars.ReplaceAllString(name, "-")
	name = repeatedHyphens.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}

// PortSpec is a container port mapping, accepted either as a string
// ("PUBLISHED:TARGET[/PROTO]" or "HOST_IP:PUBLISHED:TARGET[/PROTO]") or in
// structured form.
type PortSpec struct {
	HostIP    string `yaml:"host_ip"`
	Published string `yaml:"published"`
	Target    string `yaml:"target"`
	Protocol  string `yaml:"protocol"`

	raw string
}

// UnmarshalYAML accepts the scalar and structured forms.
func (p *PortSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.raw = value.Value
		return nil
	}
	type plain PortSpec
	var v plain
	if err := value.Decode(&v); err != nil {
		return err
	}
	*p = PortSpec(v)
	return nil
}

// Resolve parses the spec into a container port and host binding.
func (p *PortSpec) Resolve() (nat.Port, nat.PortBinding, error) {
	hostIP, published, target, proto := p.HostIP, p.Published, p.Target, p.Protocol
	if p.raw != "" {
		rest := p.raw
		if t, pr, ok := strings.Cut(rest, "/"); ok {
			rest, proto = t, pr
		}
		parts := strings.Split(rest, ":")
		switch len(parts) {
		case 2:
			published, target = parts[0], parts[1]
		case 3:
			hostIP, published, target = parts[0], parts[1], parts[2]
		default:
			return "", nat.PortBinding{}, fmt.Errorf("invalid port mapping %q: want PUBLISHED:TARGET or HOST_IP:PUBLISHED:TARGET", p.raw)
		}
	}
	if proto == "" {
		proto = "tcp"
	}
	if published == "" || target == "" {
		return "", nat.PortBinding{}, fmt.Errorf("port mapping needs both published and target ports")
	}
	if _, err := strconv.Atoi(published); err != nil {
		return "", nat.PortBinding{}, fmt.Errorf("invalid published port %q", published)
	}
	if _, err := strconv.Atoi(target); err != nil {
		return "", nat.PortBinding{}, fmt.Errorf("invalid target port %q", target)
	}
	port, err := nat.NewPort(proto, target)
	if err != nil {
		return "", nat.PortBinding{}, err
	}
	return port, nat.PortBinding{HostIP: hostIP, HostPort: published}, nil
}

// VolumeSpec is a container volume mapping, accepted either as a string
// ("SRC:DST[:ro|rw]") or in structured form.
type VolumeSpec struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only"`

	raw string
}

// UnmarshalYAML accepts the scalar and structured forms.
func (v *VolumeSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		v.raw = value.Value
		return nil
	}
	type plain VolumeSpec
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*v = VolumeSpec(p)
	return nil
}

// Bind resolves the spec into a Docker bind string ("src:dst" or
// "src:dst:ro").
func (v *VolumeSpec) Bind() (string, error) {
	source, target, readOnly := v.Source, v.Target, v.ReadOnly
	if v.raw != "" {
		parts := strings.Split(v.raw, ":")
		switch len(parts) {
		case 2:
			source, target = parts[0], parts[1]
		case 3:
			source, target = parts[0], parts[1]
			switch parts[2] {
			case "ro":
				readOnly = true
			case "rw":
				readOnly = false
			default:
				return "", fmt.Errorf("invalid volume mode %q: want ro or rw", parts[2])
			}
		default:
			return "", fmt.Errorf("invalid volume mapping %q: want SRC:DST[:ro|rw]", v.raw)
		}
	}
	if source == "" || target == "" {
		return "", fmt.Errorf("volume mapping needs both source and target")
	}
	bind := source + ":" + target
	if readOnly {
		bind += ":ro"
	}
	return bind, nil
}

package docker

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Load Generator", "load-generator"},
		{"otel-collector", "otel-collector"},
		{"--weird--name--", "weird-name"},
		{"UPPER_case.ok", "upper_case.ok"},
		{"a@@b##c", "a-b-c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in))
	}
}

func TestSanitizeNameIdempotent(t *testing.T) {
	inputs := []string{"Load Generator", "a@@b", "--x--", "ALL_CAPS.123"}
	valid := regexp.MustCompile(`^[a-z0-9_.-]*$`)
	for _, in := range inputs {
		once := SanitizeName(in)
		assert.Equal(t, once, SanitizeName(once))
		assert.True(t, valid.MatchString(once), "sanitized %q -> %q", in, once)
	}
}

func TestSanitizeNameLength(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, SanitizeName(string(long)), 255)
}

func portFromYAML(t *testing.T, doc string) *PortSpec {
	t.Helper()
	var spec PortSpec
	require.NoError(t, yaml.Unmarshal([]byte(doc), &spec))
	return &spec
}

func TestPortSpecStringForms(t *testing.T) {
	port, binding, err := portFromYAML(t, `"8080:80"`).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "80/tcp", string(port))
	assert.Equal(t, "8080", binding.HostPort)
	assert.Empty(t, binding.HostIP)

	port, binding, err = portFromYAML(t, `"127.0.0.1:9090:90/udp"`).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "90/udp", string(port))
	assert.Equal(t, "127.0.0.1", binding.HostIP)
	assert.Equal(t, "9090", binding.HostPort)
}

func TestPortSpecStructuredForm(t *testing.T) {
	port, binding, err := portFromYAML(t, `{published: 8080, target: 80, protocol: tcp}`).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "80/tcp", string(port))
	assert.Equal(t, "8080", binding.HostPort)
}

func TestPortSpecRejectsMalformed(t *testing.T) {
	for _, bad := range []string{`"8080"`, `"a:b:c:d"`, `"x:80"`, `"8080:y"`} {
		_, _, err := portFromYAML(t, bad).Resolve()
		assert.Error(t, err, "expected %s to be rejected", bad)
	}
}

func volumeFromYAML(t *testing.T, doc string) *VolumeSpec {
	t.Helper()
	var spec VolumeSpec
	require.NoError(t, yaml.Unmarshal([]byte(doc), &spec))
	return &spec
}

func TestVolumeSpecStringForms(t *testing.T) {
	bind, err := volumeFromYAML(t, `"./conf:/etc/conf"`).Bind()
	require.NoError(t, err)
	assert.Equal(t, "./conf:/etc/conf", bind)

	bind, err = volumeFromYAML(t, `"./conf:/etc/conf:ro"`).Bind()
	require.NoError(t, err)
	assert.Equal(t, "./conf:/etc/conf:ro", bind)

	bind, err = volumeFromYAML(t, `"./conf:/etc/conf:rw"`).Bind()
	require.NoError(t, err)
	assert.Equal(t, "./conf:/etc/conf", bind)
}

func TestVolumeSpecStructuredForm(t *testing.T) {
	bind, err := volumeFromYAML(t, `{source: /data, target: /var/data, read_only: true}`).Bind()
	require.NoError(t, err)
	assert.Equal(t, "/data:/var/data:ro", bind)
}

func TestVolumeSpecRejectsMalformed(t *testing.T) {
	for _, bad := range []string{`"/only-source"`, `"a:b:c:d"`, `"./x:/y:bad"`} {
		_, err := volumeFromYAML(t, bad).Bind()
		assert.Error(t, err, "expected %s to be rejected", bad)
	}
}

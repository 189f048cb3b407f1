package config

import (
	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/perfpipe/perfpipe/pkg/framework"
)

// DeepMerge merges overlay into a copy of base, overlay keys winning,
// recursing into nested mappings. It operates on the neutral tree form used
// by update_component_strategy; after the merge the affected branch is
// re-decoded into its config variant and re-validated.
func DeepMerge(base, overlay map[string]any) (map[string]any, error) {
	dst := CloneTree(base)
	if err := mergo.Merge(&dst, overlay, mergo.WithOverride); err != nil {
		return nil, framework.NewConfigError("failed to merge config", err)
	}
	return dst, nil
}

// CloneTree deep-copies a neutral config tree.
func CloneTree(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneTree(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// DecodeTree decodes a neutral tree into a typed config struct by
// round-tripping through YAML, so the struct's UnmarshalYAML hooks and yaml
// tags apply.
func DecodeTree(tree map[string]any, out any) error {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return framework.NewConfigError("failed to re-encode merged config", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return framework.NewConfigError("failed to decode merged config", err)
	}
	return nil
}

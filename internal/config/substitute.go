package config

import (
	"fmt"
	"os"
	"strings"
)

// maxSubstitutionDepth bounds nested substitutions so circular references in
// configuration fail instead of looping.
const maxSubstitutionDepth = 10

// Substitute resolves ${fromEnv:NAME} and ${fromFile:/path} references
// recursively through maps, slices and strings. Non-string leaves pass
// through unchanged.
func Substitute(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return substituteString(v, 0)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			sub, err := Substitute(val)
			if err != nil {
				return nil, err
			}
			out[key] = sub
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			sub, err := Substitute(val)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	default:
		return value, nil
	}
}

func substituteString(value string, depth int) (string, error) {
	if depth >= maxSubstitutionDepth {
		return "", fmt.Errorf("maximum substitution depth (%d) exceeded: check for circular references", maxSubstitutionDepth)
	}

	var sb strings.Builder
	rest := value
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		end += start

		sb.WriteString(rest[:start])
		ref := rest[start+2 : end]
		rest = rest[end+1:]

		tag, arg, ok := strings.Cut(ref, ":")
		if !ok {
			// Not a substitution reference; emit verbatim.
			sb.WriteString("${" + ref + "}")
			continue
		}

		var resolved string
		var err error
		switch tag {
		case "fromEnv":
			resolved, err = substituteEnv(arg)
		case "fromFile":
			resolved, err = substituteFile(arg)
		default:
			sb.WriteString("${" + ref + "}")
			continue
		}
		if err != nil {
			return "", err
		}

		// The resolved value may itself contain references.
		resolved, err = substituteString(resolved, depth+1)
		if err != nil {
			return "", err
		}
		sb.WriteString(resolved)
	}
}

func substituteEnv(name string) (string, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %q not found", name)
	}
	return value, nil
}

func substituteFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading substitution file %q: %w", path, err)
	}
	content := string(data)

	// A single line with a trailing newline loses the newline; multi-line
	// content is preserved byte for byte.
	if trimmed, found := strings.CutSuffix(content, "\n"); found && !strings.Contains(trimmed, "\n") {
		return trimmed, nil
	}
	return content, nil
}

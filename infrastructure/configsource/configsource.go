// Package configsource provides the ports.ConfigSource implementations that
// sit between explicit options and built-in defaults during configuration
// resolution: the process environment, dotenv files, YAML files, plain maps
// and an ordered chain of any of these.
package configsource

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-behave/internal/ports"
)

// DefaultDotEnvPath is the dotenv file consulted by Default.
const DefaultDotEnvPath = ".env"

var (
	_ ports.ConfigSource = Map(nil)
	_ ports.ConfigSource = Chain(nil)
	_ ports.ConfigSource = environ{}
)

// Map is a fixed set of values, typically used by tests.
type Map map[string]string

// Lookup returns m[key].
func (m Map) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

type environ struct{}

func (environ) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// Environ returns a source backed by the process environment. Values are read
// on every lookup, so later changes to the environment are visible.
func Environ() ports.ConfigSource { return environ{} }

// Chain consults its sources in order and returns the first value found.
type Chain []ports.ConfigSource

// Lookup returns the value from the first source that has key.
func (c Chain) Lookup(key string) (string, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if v, ok := src.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// DotEnv reads the dotenv file at path without touching the process
// environment. A missing file yields an empty source; other failures are
// *ports.ConfigError.
func DotEnv(path string) (Map, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Map{}, nil
	}
	if err != nil {
		return nil, ports.NewConfigError(path, err)
	}
	return Map(values), nil
}

// YAMLFile reads a YAML mapping from path. Nested mappings are flattened
// into upper-case keys joined by underscores, so
//
//	rate_limiter:
//	  requests_per_second: 5
//
// is found under RATE_LIMITER_REQUESTS_PER_SECOND. Scalars keep the text
// written in the file. Errors are *ports.ConfigError; a missing file also
// matches ports.ErrConfigNotFound.
func YAMLFile(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ports.NewConfigError(path, fmt.Errorf("%w: %w", ports.ErrConfigNotFound, err))
	}
	if err != nil {
		return nil, ports.NewConfigError(path, err)
	}
	m, err := ParseYAML(data)
	if err != nil {
		return nil, ports.NewConfigError(path, err)
	}
	return m, nil
}

// ParseYAML parses YAML data the way YAMLFile does.
func ParseYAML(data []byte) (Map, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return Map{}, nil
		}
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}

	out := Map{}
	doc := &root
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return out, nil
		}
		doc = doc.Content[0]
	}
	if err := flatten(doc, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(node *yaml.Node, prefix string, out Map) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := strings.ToUpper(node.Content[i].Value)
			if prefix != "" {
				key = prefix + "_" + key
			}
			if err := flatten(node.Content[i+1], key, out); err != nil {
				return err
			}
		}
		return nil
	case yaml.ScalarNode:
		if prefix == "" {
			return fmt.Errorf("YAML config must be a mapping, got scalar %q", node.Value)
		}
		if node.Tag == "!!null" {
			return nil
		}
		out[prefix] = node.Value
		return nil
	case yaml.AliasNode:
		return flatten(node.Alias, prefix, out)
	default:
		return fmt.Errorf("unsupported YAML value at %s (line %d): only mappings and scalars are allowed", prefix, node.Line)
	}
}

// Default returns the production source: the process environment, falling
// back to DefaultDotEnvPath. The dotenv file never overrides a variable that
// is set in the environment. An unreadable dotenv file is logged and skipped.
func Default(logger *slog.Logger) ports.ConfigSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dotenv, err := DotEnv(DefaultDotEnvPath)
	if err != nil {
		logger.Warn("ignoring dotenv file", "path", DefaultDotEnvPath, "error", err)
		return Chain{Environ()}
	}
	if len(dotenv) > 0 {
		logger.Debug("loaded dotenv file", "path", DefaultDotEnvPath, "keys", len(dotenv))
	}
	return Chain{Environ(), dotenv}
}

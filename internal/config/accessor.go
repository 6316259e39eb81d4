package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindBool
	kindList // comma separated on the command line
)

// settablePaths are the dot paths `config set` accepts outside providers.
var settablePaths = map[string]fieldKind{
	"general.logLevel":             kindString,
	"general.logFile":              kindString,
	"client.baseURL":               kindString,
	"client.token":                 kindString,
	"client.ownerId":               kindString,
	"client.language":              kindString,
	"client.historyWindow":         kindInt,
	"client.titleLength":           kindInt,
	"client.requestTimeoutSeconds": kindInt,
	"gateway.host":                 kindString,
	"gateway.port":                 kindInt,
	"gateway.dbPath":               kindString,
	"gateway.attachmentDir":        kindString,
	"gateway.publicURL":            kindString,
	"gateway.responder":            kindString,
	"gateway.fallback":             kindList,
	"gateway.rateLimitPerMinute":   kindInt,
	"gateway.rateLimitBurst":       kindInt,
	"gateway.maxAttachmentBytes":   kindInt,
	"metrics.enabled":              kindBool,
	"metrics.endpoint":             kindString,
}

// providerFields are settable under providers.<name>.
var providerFields = map[string]fieldKind{
	"enabled":      kindBool,
	"apiBase":      kindString,
	"apiKey":       kindString,
	"defaultModel": kindString,
}

func kindOf(path string) (fieldKind, bool) {
	if k, ok := settablePaths[path]; ok {
		return k, true
	}
	parts := strings.Split(path, ".")
	if len(parts) == 3 && parts[0] == "providers" && parts[1] != "" {
		k, ok := providerFields[parts[2]]
		return k, ok
	}
	return 0, false
}

// GetByPath retrieves a config value by dot path (e.g. "client.ownerId").
// Known paths whose value is unset return nil.
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
		if current, ok = obj[key]; !ok {
			if _, known := kindOf(path); known {
				return nil, nil
			}
			return nil, fmt.Errorf("key not found: %s", path)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot path. String values are converted to
// the field's type; cfg is left unchanged on error.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	kind, ok := kindOf(path)
	if !ok {
		return fmt.Errorf("unknown config path %q (see: recruitbot config paths)", path)
	}
	if s, isString := value.(string); isString {
		v, err := convert(kind, s)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		value = v
	}

	m, err := toMap(cfg)
	if err != nil {
		return err
	}
	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			child = make(map[string]any)
			parent[key] = child
		}
		parent = child
	}
	parent[parts[len(parts)-1]] = value

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var next Config
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = next
	return nil
}

func convert(kind fieldKind, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch kind {
	case kindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a whole number, got %q", s)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", s)
		}
		return b, nil
	case kindList:
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	default:
		return s, nil
	}
}

// Sanitize returns a copy of the config with the client token and provider
// API keys masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Client.Token = maskString(cfg.Client.Token)
	out.Providers = make(map[string]ProviderConfig, len(cfg.Providers))
	for name, prov := range cfg.Providers {
		prov.APIKey = maskString(prov.APIKey)
		out.Providers[name] = prov
	}
	out.Gateway.Fallback = append([]string(nil), cfg.Gateway.Fallback...)
	return &out
}

// maskString keeps the first and last 4 characters of long secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "****" + s[len(s)-4:]
	}
}

// ListPaths returns every settable path with its current value, including
// the fields of each configured provider. Unset values are nil.
func ListPaths(cfg *Config) map[string]any {
	paths := make([]string, 0, len(settablePaths)+len(cfg.Providers)*len(providerFields))
	for p := range settablePaths {
		paths = append(paths, p)
	}
	for name := range cfg.Providers {
		for field := range providerFields {
			paths = append(paths, "providers."+name+"."+field)
		}
	}

	result := make(map[string]any, len(paths))
	for _, p := range paths {
		v, err := GetByPath(cfg, p)
		if err != nil {
			continue
		}
		result[p] = v
	}
	return result
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

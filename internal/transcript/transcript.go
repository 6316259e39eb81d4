// Package transcript exports a conversation and its messages as JSON or YAML.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"recruitbot/internal/domain"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported transcript format %q (want json or yaml)", s)
	}
}

// Transcript is the exported document.
type Transcript struct {
	Conversation domain.Conversation `json:"conversation" yaml:"conversation"`
	MessageCount int                 `json:"message_count" yaml:"message_count"`
	Messages     []domain.Message    `json:"messages" yaml:"messages"`
	ExportedAt   time.Time           `json:"exported_at" yaml:"exported_at"`
}

// now is replaced in tests.
var now = time.Now

// Write renders conv and msgs to w in the given format.
func Write(w io.Writer, conv domain.Conversation, msgs []domain.Message, format Format) error {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	doc := Transcript{
		Conversation: conv,
		MessageCount: len(msgs),
		Messages:     msgs,
		ExportedAt:   now().UTC(),
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported transcript format %q", format)
	}
}

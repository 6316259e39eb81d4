package chat

import (
	"fmt"
	"strings"

	"recruitbot/internal/domain"
)

// ParseContextTag parses "none", "candidate", "candidate:42" or "vacancy:7".
func ParseContextTag(s string) (domain.ContextTag, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return domain.ContextTag{}, nil
	}
	kind, id, _ := strings.Cut(s, ":")
	switch domain.ContextKind(kind) {
	case domain.ContextCandidate, domain.ContextVacancy:
		return domain.ContextTag{Kind: domain.ContextKind(kind), EntityID: id}, nil
	default:
		return domain.ContextTag{}, fmt.Errorf("unknown context kind %q (want none, candidate or vacancy)", kind)
	}
}

// StaticContext is a ContextResolver that always returns the same tag.
type StaticContext domain.ContextTag

func (c StaticContext) Resolve() domain.ContextTag { return domain.ContextTag(c) }

// Package uuid generates site map job IDs.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultPrefix labels job IDs handed out by the service.
const DefaultPrefix = "sitemap"

// Generator creates "{prefix}-{uuidv7}" job IDs. v7 IDs sort by creation
// time, so listings keyed by ID stay roughly chronological.
type Generator struct {
	prefix string
}

// New creates a Generator. An empty prefix yields bare UUIDs.
func New(prefix string) *Generator {
	return &Generator{prefix: strings.Trim(strings.TrimSpace(prefix), "-")}
}

// NewID returns a fresh job ID.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	if g.prefix == "" {
		return id.String(), nil
	}
	return g.prefix + "-" + id.String(), nil
}

// Parse extracts the UUID from an ID produced by g.
func (g *Generator) Parse(jobID string) (uuid.UUID, error) {
	raw := jobID
	if g.prefix != "" {
		var ok bool
		raw, ok = strings.CutPrefix(jobID, g.prefix+"-")
		if !ok {
			return uuid.Nil, fmt.Errorf("job id %q lacks prefix %q", jobID, g.prefix)
		}
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse job id: %w", err)
	}
	return id, nil
}

// Package uuid provides identifiers for pipeline runs and side files.
package uuid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// runLayout is the timestamp portion of a run id.
const runLayout = "20060102_150405"

// Generator creates run identifiers.
type Generator struct{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRunID returns an id of the form run_YYYYMMDD_HHMMSS_<8 hex>, stamped
// with now in UTC and suffixed with random bits from a v4 UUID.
func (Generator) NewRunID(now time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	suffix := strings.ReplaceAll(id.String(), "-", "")[:8]
	return "run_" + now.UTC().Format(runLayout) + "_" + suffix, nil
}

package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Namespace UUIDs for different entity types (UUIDv5 requires a namespace)
var (
	CycleNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	FaultNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")
)

// NewClockID returns a random identifier for a clock instance. Two clocks
// with the same name still get distinct IDs.
func NewClockID(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	if slug == "" {
		return fmt.Sprintf("clock_%s", uuid.NewString())
	}
	return fmt.Sprintf("clock_%s_%s", slug, uuid.NewString())
}

// GenerateCycleID generates a deterministic ID for the seq-th tick cycle of a
// clock
func GenerateCycleID(clockID string, seq int64) string {
	combined := fmt.Sprintf("%s:%d", clockID, seq)
	id := uuid.NewSHA1(CycleNamespace, []byte(combined))
	return fmt.Sprintf("cycle_%s", id.String())
}

// GenerateFaultID generates a deterministic ID for the seq-th fault raised
// within scope (usually a clock ID)
func GenerateFaultID(scope string, seq int64) string {
	combined := fmt.Sprintf("%s:%d", scope, seq)
	id := uuid.NewSHA1(FaultNamespace, []byte(combined))
	return fmt.Sprintf("fault_%s", id.String())
}

package payments

import (
	"regexp"
	"testing"
)

func TestIDGenerator_Generate(t *testing.T) {
	gen := NewIDGenerator("test-secret")
	pattern := regexp.MustCompile(`^PAY-[A-Z2-7]{8}-[0-9a-f]{32}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen.Generate()
		if !pattern.MatchString(id) {
			t.Fatalf("unexpected id format: %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

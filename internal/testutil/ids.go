package testutil

// FixedIDGenerator generates the same id every time.
//
// Scheduler run ids feed log lines and workunit labels; a fixed id keeps
// those byte-identical between runs of the same scenario.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator returning id.
// If id is empty, Generate() returns "test-run-default".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
//
// Implements workunit.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}

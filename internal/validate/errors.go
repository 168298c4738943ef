package validate

import (
	"errors"
	"fmt"

	"github.com/local/bedrockbatch/internal/ai"
)

// SchemaMismatchError means an existing manifest was written for a different
// model family than the one selected.
type SchemaMismatchError struct {
	ManifestURI string
	RecordID    string
	ModelID     string
	Expected    ai.Family
	// Found is empty when the record matches no known schema.
	Found ai.Family
}

func (e *SchemaMismatchError) Error() string {
	found := string(e.Found)
	if found == "" {
		found = "unrecognized"
	}
	return fmt.Sprintf("manifest %s was generated for the %s schema but model %s expects %s; pick a matching model or rebuild the manifest",
		e.ManifestURI, found, e.ModelID, e.Expected)
}

func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatchError
	return errors.As(err, &sm)
}

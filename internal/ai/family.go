package ai

import (
	"fmt"
	"strings"

	"github.com/local/bedrockbatch/internal/filetype"
)

// Family groups models sharing one request/response schema.
type Family string

const (
	Claude Family = "claude"
	Nova   Family = "nova"
)

// familyTable is the only place a model id is mapped to a schema family.
// Patterns are matched as case-insensitive substrings in order.
var familyTable = []struct {
	pattern string
	family  Family
}{
	{"anthropic.claude", Claude},
	{"amazon.nova", Nova},
}

// UnknownFamilyError is returned for model ids no table entry matches.
type UnknownFamilyError struct{ ModelID string }

func (e *UnknownFamilyError) Error() string {
	return fmt.Sprintf("model %q does not belong to a supported family", e.ModelID)
}

// FamilyOf resolves the schema family of modelID.
func FamilyOf(modelID string) (Family, error) {
	id := strings.ToLower(strings.TrimSpace(modelID))
	for _, e := range familyTable {
		if strings.Contains(id, e.pattern) {
			return e.family, nil
		}
	}
	return "", &UnknownFamilyError{ModelID: modelID}
}

// Model is one catalogue entry.
type Model struct {
	ID         string
	Name       string
	Family     Family
	Modalities []filetype.Modality
}

var (
	textOnly   = []filetype.Modality{filetype.Text}
	textImage  = []filetype.Modality{filetype.Text, filetype.Image}
	multimodal = []filetype.Modality{filetype.Text, filetype.Image, filetype.Video}
)

// catalogue lists cross-region inference profiles known to work for batch.
var catalogue = []Model{
	{"us.anthropic.claude-3-haiku-20240307-v1:0", "Claude 3 Haiku", Claude, textImage},
	{"us.anthropic.claude-3-5-haiku-20241022-v1:0", "Claude 3.5 Haiku", Claude, textOnly},
	{"us.anthropic.claude-3-5-sonnet-20240620-v1:0", "Claude 3.5 Sonnet", Claude, textImage},
	{"us.anthropic.claude-3-5-sonnet-20241022-v2:0", "Claude 3.5 Sonnet v2", Claude, textImage},
	{"us.anthropic.claude-3-7-sonnet-20250219-v1:0", "Claude 3.7 Sonnet", Claude, textImage},
	{"us.anthropic.claude-sonnet-4-20250514-v1:0", "Claude Sonnet 4", Claude, textImage},
	{"us.anthropic.claude-opus-4-20250514-v1:0", "Claude Opus 4", Claude, textImage},
	{"us.amazon.nova-micro-v1:0", "Nova Micro", Nova, textOnly},
	{"us.amazon.nova-lite-v1:0", "Nova Lite", Nova, textImage},
	{"us.amazon.nova-pro-v1:0", "Nova Pro", Nova, multimodal},
	{"us.amazon.nova-premier-v1:0", "Nova Premier", Nova, multimodal},
}

// Catalogue returns the known models able to serve m.
func Catalogue(m filetype.Modality) []Model {
	var out []Model
	for _, model := range catalogue {
		for _, mm := range model.Modalities {
			if mm == m {
				out = append(out, model)
				break
			}
		}
	}
	return out
}

// CheckModality verifies that modelID's family can carry m payloads and
// returns the family. Video needs the Nova schema; ids outside the
// catalogue are accepted as long as the family fits.
func CheckModality(modelID string, m filetype.Modality) (Family, error) {
	fam, err := FamilyOf(modelID)
	if err != nil {
		return "", err
	}
	if m == filetype.Video && fam != Nova {
		return "", fmt.Errorf("model %q (%s family) cannot process video", modelID, fam)
	}
	return fam, nil
}

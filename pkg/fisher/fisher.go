// Package fisher implements the lookup capability ("the Fisher") that
// resolves a name, id, or url to a definition across the in-progress Tank
// of imported FSH entities and the external Definitions Cache. Lookups
// are memoized because parent resolution is re-entrant: fishing one name
// may trigger another entity's export, which fishes again.
package fisher

import (
	"context"
	"encoding/json"

	"github.com/gofhir/fsh/pkg/ast"
)

// Metadata is the narrow summary fishForMetadata returns: just enough to
// resolve a parent or instanceOf without a full JSON unmarshal.
type Metadata struct {
	ID             string
	Name           string
	URL            string
	SDType         string
	BaseDefinition string
	Kind           string // resource | complex-type | primitive-type | extension
}

// Fishable is the lookup port every exporter consumes. It is satisfied by
// the Tank (which layers the in-progress compilation's own entities over a
// DefinitionsCache) so SD/Instance export never distinguishes "defined in
// this compilation" from "defined in a dependency package".
type Fishable interface {
	FishForFHIR(ctx context.Context, nameOrURL string, kinds ...ast.EntityKind) (json.RawMessage, bool)
	FishForMetadata(ctx context.Context, nameOrURL string, kind ast.EntityKind) (*Metadata, bool)
}

// DefinitionsCache is the port to an externally loaded FHIR definitions
// package; the core only consumes this interface.
type DefinitionsCache interface {
	Fishable
}

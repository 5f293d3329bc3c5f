package validation

import (
	"encoding/json"
	"fmt"

	"github.com/dlclark/regexp2"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/agenthands/tgi-router/internal/router"
)

// compileGrammar validates that a request's grammar constraint is
// well-formed before it is ever handed to a shard. A JSON-schema
// grammar must parse as a schema document; a regex grammar must compile
// under backtracking semantics, matching the engine the constrained
// decoding loop on the shard side is expected to run.
func compileGrammar(g router.Grammar) error {
	switch g.Kind {
	case router.GrammarNone:
		return nil
	case router.GrammarJSONSchema:
		var raw map[string]any
		if err := json.Unmarshal([]byte(g.Value), &raw); err != nil {
			return router.NewValidationError("invalid grammar: not valid JSON: %v", err)
		}
		schema := new(jsonschema.Schema)
		if err := json.Unmarshal([]byte(g.Value), schema); err != nil {
			return router.NewValidationError("invalid grammar: not a valid JSON schema: %v", err)
		}
		if _, err := schema.Resolve(nil); err != nil {
			return router.NewValidationError("invalid grammar: schema does not resolve: %v", err)
		}
		return nil
	case router.GrammarRegex:
		if _, err := regexp2.Compile(g.Value, regexp2.RE2); err != nil {
			return router.NewValidationError("invalid grammar: regex does not compile: %v", err)
		}
		return nil
	default:
		return fmt.Errorf("validation: unknown grammar kind %d", g.Kind)
	}
}

package contract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// Contract describes the structured output a unit must produce: a name for
// diagnostics and a JSON schema document its raw text is validated against.
// Contracts travel with the session spec so providers can steer generation
// toward the required shape.
type Contract struct {
	Name   string
	Schema map[string]any

	compiled *gojsonschema.Schema
}

// SpecialistOutput is the shape every specialist unit must emit.
type SpecialistOutput struct {
	Analysis   string   `json:"analysis" jsonschema:"What the specialist found, in its own words"`
	Solution   string   `json:"solution,omitempty" jsonschema:"Proposed change or answer, empty when analysis only"`
	Confidence float64  `json:"confidence,omitempty" jsonschema:"Confidence in the analysis, from 0 to 1"`
	Handoff    []string `json:"handoff,omitempty" jsonschema:"IDs of additional specialists that should look at this task"`
}

// LeadOutput is the shape the lead unit must emit to finish the session.
type LeadOutput struct {
	FinalResponse string `json:"finalResponse" jsonschema:"The final consolidated answer for the user"`
	Reasoning     string `json:"reasoning" jsonschema:"How the specialist findings were combined"`
}

const (
	// DefaultConfidence is stored when a valid output omits the field.
	DefaultConfidence = 0.5
	// MaxHandoffs bounds how many follow-up specialists one result may request.
	MaxHandoffs = 10
)

// Specialist returns the shared specialist output contract.
var Specialist = sync.OnceValue(func() *Contract {
	c, err := build("specialist_output", tools.MustSchemaFor[SpecialistOutput](), func(schema map[string]any) {
		requireNonEmpty(schema, "analysis")
	})
	if err != nil {
		panic(err)
	}
	return c
})

// Lead returns the shared lead output contract.
var Lead = sync.OnceValue(func() *Contract {
	c, err := build("lead_output", tools.MustSchemaFor[LeadOutput](), func(schema map[string]any) {
		requireNonEmpty(schema, "finalResponse")
		requireNonEmpty(schema, "reasoning")
	})
	if err != nil {
		panic(err)
	}
	return c
})

// build normalizes the generated schema, applies contract-specific tweaks,
// and compiles it once for validation.
func build(name string, generated any, tweak func(map[string]any)) (*Contract, error) {
	schema, err := tools.SchemaToMap(generated)
	if err != nil {
		return nil, fmt.Errorf("build %s contract schema: %w", name, err)
	}
	// Models decorate their output freely; unknown keys must not fail the
	// contract.
	delete(schema, "additionalProperties")
	if tweak != nil {
		tweak(schema)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile %s contract schema: %w", name, err)
	}
	return &Contract{Name: name, Schema: schema, compiled: compiled}, nil
}

func requireNonEmpty(schema map[string]any, field string) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	prop, ok := props[field].(map[string]any)
	if !ok {
		return
	}
	prop["minLength"] = 1
}

// Validate checks a decoded document against the contract schema.
func (c *Contract) Validate(doc any) error {
	result, err := c.compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate against %s contract: %w", c.Name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			msgs = append(msgs, resultErr.String())
		}
		return fmt.Errorf("%s contract violated: %s", c.Name, strings.Join(msgs, "; "))
	}
	return nil
}

// Instructions renders the prompt appendix that steers a unit toward
// contract-shaped output.
func (c *Contract) Instructions() string {
	var sb strings.Builder
	sb.WriteString("Respond with a single JSON object and nothing else. Required shape:\n")
	sb.WriteString("{")
	props, _ := c.Schema["properties"].(map[string]any)
	required := requiredSet(c.Schema)
	first := true
	for _, field := range fieldOrder(c.Name) {
		prop, ok := props[field].(map[string]any)
		if !ok {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		desc, _ := prop["description"].(string)
		typ, _ := prop["type"].(string)
		fmt.Fprintf(&sb, "%q: <%s>", field, typ)
		if desc != "" {
			fmt.Fprintf(&sb, " /* %s */", desc)
		}
		if required[field] {
			sb.WriteString(" (required)")
		}
	}
	sb.WriteString("}\n")
	sb.WriteString("Do not wrap the JSON in a code fence.")
	return sb.String()
}

// fieldOrder fixes the rendering order; map iteration would shuffle the
// instructions between runs.
func fieldOrder(name string) []string {
	if name == "lead_output" {
		return []string{"finalResponse", "reasoning"}
	}
	return []string{"analysis", "solution", "confidence", "handoff"}
}

func requiredSet(schema map[string]any) map[string]bool {
	out := map[string]bool{}
	required, _ := schema["required"].([]any)
	for _, v := range required {
		if s, ok := v.(string); ok {
			out[s] = true
		}
	}
	return out
}

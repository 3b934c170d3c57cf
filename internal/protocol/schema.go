package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed act.schema.json
var actSchemaSource string

var actSchema = mustCompile("act.schema.json", actSchemaSource)

func mustCompile(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("protocol: add schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("protocol: compile schema %s: %v", name, err))
	}
	return s
}

// ValidateAct checks raw ACT JSON against the embedded schema before it is
// decoded into an ActMsg.
func ValidateAct(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return actSchema.Validate(v)
}

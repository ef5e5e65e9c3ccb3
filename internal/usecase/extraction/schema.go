package extraction

import (
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
)

const (
	operation  = "review_extract"
	schemaName = "review_attributes"
)

const systemPrompt = `You read one restaurant review and report what it says about the venue.
Return only JSON matching the schema. Leave a field out when the review does not support it.
- noise_level: how loud the venue is.
- vibe: the single best description of the atmosphere.
- food_quality: how the reviewer rated the food.`

// reviewSchema is built from the attribute schema so labels never drift.
var reviewSchema = func() jsonschema.Definition {
	props := make(map[string]jsonschema.Definition)
	for _, s := range attribute.Schema() {
		props[string(s.Name)] = jsonschema.Definition{Type: jsonschema.String, Enum: s.Labels}
	}
	return jsonschema.Definition{Type: jsonschema.Object, Properties: props}
}()

// reviewOutput is the validated completion payload: attribute name to label.
type reviewOutput map[string]string

// values converts labels into scored attribute values. Unknown keys fail.
func (o reviewOutput) values() (attribute.Values, error) {
	vals := make(attribute.Values, len(o))
	for name, label := range o {
		v, err := attribute.NewValue(attribute.Name(name), label)
		if err != nil {
			return nil, err
		}
		vals[attribute.Name(name)] = v
	}
	return vals, nil
}

func checkOutput(o reviewOutput) error {
	_, err := o.values()
	return err
}

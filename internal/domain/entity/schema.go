package entity

// FieldType enumerates the value kinds a form field can declare.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
	FieldSelect FieldType = "select"
	FieldFile   FieldType = "file"
	FieldArray  FieldType = "array"
)

// FieldSchema describes one field of a submission form. Schemas are
// trees: an array field carries an ordered list of subfields applied
// to every element. Immutable once a request type is open for
// submission.
type FieldSchema struct {
	Name      string        `json:"name"`
	Label     string        `json:"label"`
	Type      FieldType     `json:"type"`
	Required  bool          `json:"required"`
	Options   []string      `json:"options,omitempty"`
	Subfields []FieldSchema `json:"subfields,omitempty"`
}

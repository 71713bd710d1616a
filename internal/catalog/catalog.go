package catalog

// FieldType is the closed set of semantic cell types the transformer knows.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeNumber   FieldType = "number"
	TypeCurrency FieldType = "currency"
	TypeDate     FieldType = "date"
	TypeDatetime FieldType = "datetime"
	TypeBoolean  FieldType = "boolean"
	TypeArray    FieldType = "array"
	TypeObject   FieldType = "object"
	TypeCustom   FieldType = "custom"
	TypeEmpty    FieldType = "empty"
)

// Field describes one column a dataset can produce.
type Field struct {
	Key      string
	Label    string
	Type     FieldType
	Computed bool
	// Enrichment names the capability that fills this field; empty means the
	// fetcher (or the transformer's synthesis rules, when Computed) provides it.
	Enrichment string
}

// FieldGroup is an ordered, named slice of fields as shown to users.
type FieldGroup struct {
	Name   string
	Fields []Field
}

// Dataset is one declared shape of primary records.
type Dataset struct {
	ID              string
	Label           string
	Groups          []FieldGroup
	RequiredOptions []string
	// ExtraKeys maps key prefixes the dataset recognizes beyond the declared
	// field map to the capability that fills them (empty string when the
	// fetcher provides the value, as with user-defined extra fields).
	ExtraKeys map[string]string

	fieldMap map[string]Field
}

// Field returns the declared field for key, if any.
func (d *Dataset) Field(key string) (Field, bool) {
	f, ok := d.fieldMap[key]
	return f, ok
}

// RecognizesExtraKey reports whether key matches one of the dataset's
// extra-field patterns.
func (d *Dataset) RecognizesExtraKey(key string) bool {
	_, ok := d.extraKeyTag(key)
	return ok
}

func (d *Dataset) extraKeyTag(key string) (string, bool) {
	for p, tag := range d.ExtraKeys {
		if len(key) > len(p) && key[:len(p)] == p {
			return tag, true
		}
	}
	return "", false
}

// capabilityDeps declares enricher ordering dependencies: each listed
// capability must run before the key capability. The tracking and label
// enrichers read the pkgN_* columns the packages enricher flattens.
var capabilityDeps = map[string][]string{
	"tracking": {"packages"},
	"label":    {"packages"},
}

var datasets map[string]*Dataset

func init() {
	datasets = make(map[string]*Dataset)
	for _, d := range buildDatasets() {
		d.fieldMap = make(map[string]Field)
		for _, g := range d.Groups {
			for _, f := range g.Fields {
				d.fieldMap[f.Key] = f
			}
		}
		datasets[d.ID] = d
	}
}

// GetDataset returns the catalog entry for id. The catalog is immutable
// after process start.
func GetDataset(id string) (*Dataset, bool) {
	d, ok := datasets[id]
	return d, ok
}

// RequiredEnrichments returns the ordered, deduplicated capabilities needed
// to populate the selected fields, with declared dependencies placed before
// their dependents. Currency conversion is appended when requested.
func RequiredEnrichments(datasetID string, selectedFields []string, withCurrency bool) []string {
	d, ok := datasets[datasetID]
	if !ok {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(tag string) {
		if tag == "" || seen[tag] {
			return
		}
		for _, dep := range capabilityDeps[tag] {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
			}
		}
		seen[tag] = true
		out = append(out, tag)
	}

	for _, key := range selectedFields {
		if f, ok := d.fieldMap[key]; ok {
			add(f.Enrichment)
			continue
		}
		if tag, ok := d.extraKeyTag(key); ok {
			add(tag)
		}
	}
	if withCurrency {
		add("currency")
	}
	return out
}

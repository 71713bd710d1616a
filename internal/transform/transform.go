// Package transform turns enriched records into the tabular cells a
// spreadsheet destination receives. Column set and order follow the
// configuration's selected fields; cell rendering follows the catalog type
// of each column.
package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sheetbridge/internal/catalog"
	"sheetbridge/internal/models"
	"sheetbridge/internal/pipeline"
)

const (
	defaultDecimals  = 2
	defaultBoolTrue  = "TAK"
	defaultBoolFalse = "NIE"

	datetimeLayout = "2006-01-02 15:04:05"
	dateLayout     = "2006-01-02"

	// epochMillisFloor separates second from millisecond timestamps.
	epochMillisFloor = int64(1e10)

	defaultVATPercent = 23
)

// column is one resolved output column.
type column struct {
	key    string
	header string
	typ    catalog.FieldType
	custom *models.CustomField
}

// Transformer shapes records for one export configuration.
type Transformer struct {
	dataset *catalog.Dataset
	cfg     *models.ExportConfig
	dicts   *Dictionaries
	log     zerolog.Logger

	nullMarker string
	decimals   int
	boolTrue   string
	boolFalse  string
}

func New(dataset *catalog.Dataset, cfg *models.ExportConfig, dicts *Dictionaries, log zerolog.Logger) *Transformer {
	t := &Transformer{
		dataset:    dataset,
		cfg:        cfg,
		dicts:      dicts,
		log:        log,
		nullMarker: cfg.NullMarker,
		decimals:   cfg.DecimalPlaces,
		boolTrue:   cfg.BoolTrue,
		boolFalse:  cfg.BoolFalse,
	}
	if t.decimals <= 0 {
		t.decimals = defaultDecimals
	}
	if t.boolTrue == "" {
		t.boolTrue = defaultBoolTrue
	}
	if t.boolFalse == "" {
		t.boolFalse = defaultBoolFalse
	}
	if t.dicts == nil {
		t.dicts = &Dictionaries{}
	}
	return t
}

// Transform renders the header row and one cell row per record. An empty
// selection produces no output at all, not zero-width rows.
func (t *Transformer) Transform(recs []pipeline.Record) ([]string, [][]string) {
	cols := t.columns()
	if len(cols) == 0 {
		return []string{}, [][]string{}
	}

	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.header
	}

	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		t.synthesize(rec)
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = t.cell(rec, c)
		}
		rows = append(rows, row)
	}
	return headers, rows
}

// columns resolves every selected field to a typed output column. Unknown
// keys still produce a column so the sheet layout stays stable; they render
// as text and get logged once.
func (t *Transformer) columns() []column {
	cols := make([]column, 0, len(t.cfg.SelectedFields))
	for _, key := range t.cfg.SelectedFields {
		c := column{key: key, typ: catalog.TypeText}

		switch {
		case strings.HasPrefix(key, "_custom_"):
			if cf, ok := t.cfg.CustomFields[key]; ok {
				c.typ = catalog.TypeCustom
				c.custom = &cf
				c.header = cf.Label
			} else {
				t.log.Warn().Str("key", key).Msg("custom column has no definition, rendering blank")
				c.typ = catalog.TypeEmpty
			}
		case strings.HasPrefix(key, "_empty_"):
			c.typ = catalog.TypeEmpty
		default:
			if f, ok := t.dataset.Field(key); ok {
				c.typ = f.Type
				c.header = f.Label
			} else if t.dataset.RecognizesExtraKey(key) {
				c.typ = extraKeyType(key)
			} else {
				t.log.Warn().Str("key", key).Str("dataset", t.dataset.ID).
					Msg("selected field not in catalog, rendering as text")
			}
		}

		if h, ok := t.cfg.CustomHeaders[key]; ok && h != "" {
			c.header = h
		}
		if c.header == "" {
			c.header = key
		}
		cols = append(cols, c)
	}
	return cols
}

func extraKeyType(key string) catalog.FieldType {
	if strings.HasPrefix(key, "stock_warehouse_") || strings.HasPrefix(key, "price_group_") {
		return catalog.TypeNumber
	}
	return catalog.TypeText
}

// cell renders one record value for one column.
func (t *Transformer) cell(rec pipeline.Record, c column) string {
	switch c.typ {
	case catalog.TypeEmpty:
		return ""
	case catalog.TypeCustom:
		return t.renderTemplate(rec, c.custom.Template)
	}

	v := rec.Get(c.key)
	if v == nil || v == "" {
		return t.nullMarker
	}

	switch c.typ {
	case catalog.TypeDatetime:
		return t.formatTime(v, datetimeLayout)
	case catalog.TypeDate:
		return t.formatTime(v, dateLayout)
	case catalog.TypeNumber:
		return t.formatNumber(v, t.decimals)
	case catalog.TypeCurrency:
		return t.formatNumber(v, 2)
	case catalog.TypeBoolean:
		if truthy(v) {
			return t.boolTrue
		}
		return t.boolFalse
	case catalog.TypeArray:
		return t.formatArray(v)
	case catalog.TypeObject:
		return jsonCell(v)
	default:
		return textCell(v)
	}
}

// renderTemplate substitutes {fieldKey} placeholders with the record's raw
// string values. Unknown placeholders become empty.
func (t *Transformer) renderTemplate(rec pipeline.Record, tpl string) string {
	var b strings.Builder
	rest := tpl
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.Index(rest[open:], "}")
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:open])
		key := rest[open+1 : open+end]
		b.WriteString(pipeline.Str(rec.Get(key)))
		rest = rest[open+end+1:]
	}
}

// formatTime renders epoch seconds, epoch milliseconds, or an already
// formatted string with the given layout, in UTC.
func (t *Transformer) formatTime(v any, layout string) string {
	if s, ok := v.(string); ok {
		for _, in := range []string{datetimeLayout, dateLayout, time.RFC3339} {
			if parsed, err := time.Parse(in, s); err == nil {
				return parsed.UTC().Format(layout)
			}
		}
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return s
		}
	}
	epoch, ok := pipeline.Int(v)
	if !ok || epoch <= 0 {
		return t.nullMarker
	}
	if epoch > epochMillisFloor {
		return time.UnixMilli(epoch).UTC().Format(layout)
	}
	return time.Unix(epoch, 0).UTC().Format(layout)
}

func (t *Transformer) formatNumber(v any, decimals int) string {
	f, ok := pipeline.Float(v)
	if !ok {
		return textCell(v)
	}
	return strconv.FormatFloat(f, 'f', decimals, 64)
}

func (t *Transformer) formatArray(v any) string {
	items, ok := v.([]any)
	if !ok {
		return textCell(v)
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch item.(type) {
		case map[string]any, []any:
			parts = append(parts, jsonCell(item))
		default:
			parts = append(parts, pipeline.Str(item))
		}
	}
	return strings.Join(parts, ", ")
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		return s == "1" || s == "true" || s == "yes" || s == "tak"
	}
	if n, ok := pipeline.Float(v); ok {
		return n != 0
	}
	return false
}

func textCell(v any) string {
	switch v.(type) {
	case map[string]any, []any, pipeline.Record:
		return jsonCell(v)
	}
	return pipeline.Str(v)
}

func jsonCell(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

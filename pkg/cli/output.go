package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

type OutputOptions struct {
	Format    OutputFormat
	Quiet     bool
	Writer    io.Writer
	ErrWriter io.Writer
}

func NewOutputOptions() *OutputOptions {
	return &OutputOptions{
		Format:    OutputTable,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

// FormatOutput renders data in the given format. Tables are built from the
// json tags of struct fields; slices become one row per element.
func FormatOutput(data any, format OutputFormat) (string, error) {
	switch format {
	case OutputJSON:
		return formatJSON(data)
	case OutputYAML:
		return formatYAML(data)
	default:
		return formatTable(data), nil
	}
}

func formatJSON(data any) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal JSON: %w", err)
	}
	return string(b) + "\n", nil
}

func formatYAML(data any) (string, error) {
	b, err := yaml.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal YAML: %w", err)
	}
	return string(b), nil
}

func formatTable(data any) string {
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return formatRows(v)
	case reflect.Map:
		return formatKeyValues(v)
	case reflect.Struct:
		return formatRecord(v)
	case reflect.Invalid:
		return ""
	default:
		return formatValue(v.Interface()) + "\n"
	}
}

// formatRows prints one row per element with the first element's columns.
func formatRows(v reflect.Value) string {
	if v.Len() == 0 {
		return "No results\n"
	}

	columns := columnsOf(v.Index(0))

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	seps := make([]string, len(columns))
	for i, c := range columns {
		seps[i] = strings.Repeat("-", len(c))
	}
	fmt.Fprintln(w, strings.ToUpper(strings.Join(columns, "\t")))
	fmt.Fprintln(w, strings.Join(seps, "\t"))

	for i := 0; i < v.Len(); i++ {
		fmt.Fprintln(w, strings.Join(cellsOf(v.Index(i), columns), "\t"))
	}

	w.Flush()
	return sb.String()
}

// formatRecord prints a single struct as "field  value" lines, skipping
// empty values.
func formatRecord(v reflect.Value) string {
	columns := columnsOf(v)
	cells := cellsOf(v, columns)

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	for i, c := range columns {
		if cells[i] == "" {
			continue
		}
		fmt.Fprintf(w, "%s:\t%s\n", c, cells[i])
	}
	w.Flush()
	return sb.String()
}

func formatKeyValues(v reflect.Value) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	iter := v.MapRange()
	for iter.Next() {
		fmt.Fprintf(w, "%v:\t%s\n", iter.Key().Interface(), formatValue(iter.Value().Interface()))
	}

	w.Flush()
	return sb.String()
}

func columnsOf(v reflect.Value) []string {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return []string{"value"}
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return []string{"value"}
	}

	t := v.Type()
	var columns []string
	for i := 0; i < t.NumField(); i++ {
		if name, ok := columnName(t.Field(i)); ok {
			columns = append(columns, name)
		}
	}
	return columns
}

func cellsOf(v reflect.Value, columns []string) []string {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return make([]string, len(columns))
		}
		v = v.Elem()
	}

	cells := make([]string, len(columns))
	switch v.Kind() {
	case reflect.Struct:
		byName := make(map[string]int)
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if name, ok := columnName(t.Field(i)); ok {
				byName[name] = i
			}
		}
		for i, c := range columns {
			if idx, ok := byName[c]; ok {
				cells[i] = formatValue(v.Field(idx).Interface())
			}
		}
	case reflect.Map:
		for i, c := range columns {
			if fv := v.MapIndex(reflect.ValueOf(c)); fv.IsValid() {
				cells[i] = formatValue(fv.Interface())
			}
		}
	default:
		if len(cells) > 0 {
			cells[0] = formatValue(v.Interface())
		}
	}
	return cells
}

// columnName returns the json name of an exported field. Fields tagged
// json:"-" are not shown.
func columnName(f reflect.StructField) (string, bool) {
	if f.PkgPath != "" {
		return "", false
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, true
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return ""
		}
		v = rv.Elem().Interface()
	}

	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return formatTime(val)
	case time.Duration:
		return val.String()
	case fmt.Stringer:
		return val.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%.4g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		if rv := reflect.ValueOf(val); rv.Kind() == reflect.String {
			return rv.String()
		}
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func PrintOutput(data any, opts *OutputOptions) error {
	if opts.Quiet {
		return nil
	}

	output, err := FormatOutput(data, opts.Format)
	if err != nil {
		return err
	}

	fmt.Fprint(opts.Writer, output)
	return nil
}

// PrintError reports a failed command on the error writer. JSON and YAML
// output get a {"success": false} envelope so scripts can parse it.
func PrintError(err error, opts *OutputOptions) {
	w := opts.ErrWriter
	if w == nil {
		w = os.Stderr
	}
	envelope := map[string]any{
		"success": false,
		"error":   map[string]string{"message": err.Error()},
	}
	if !printEnvelope(w, envelope, opts.Format) {
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}

func PrintSuccess(message string, opts *OutputOptions) {
	if opts.Quiet {
		return
	}
	envelope := map[string]any{
		"success": true,
		"message": message,
	}
	if !printEnvelope(opts.Writer, envelope, opts.Format) {
		fmt.Fprintln(opts.Writer, message)
	}
}

func printEnvelope(w io.Writer, envelope map[string]any, format OutputFormat) bool {
	var (
		out string
		err error
	)
	switch format {
	case OutputJSON:
		out, err = formatJSON(envelope)
	case OutputYAML:
		out, err = formatYAML(envelope)
	default:
		return false
	}
	if err != nil {
		return false
	}
	fmt.Fprint(w, out)
	return true
}

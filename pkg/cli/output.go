package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

type OutputOptions struct {
	Format OutputFormat
	Quiet  bool
	Writer io.Writer
}

func NewOutputOptions() *OutputOptions {
	return &OutputOptions{
		Format: OutputTable,
		Quiet:  false,
		Writer: os.Stdout,
	}
}

func FormatOutput(data any, format OutputFormat) (string, error) {
	switch format {
	case OutputJSON:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal JSON: %w", err)
		}
		return string(b), nil
	case OutputYAML:
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshal YAML: %w", err)
		}
		return string(b), nil
	default:
		return formatTable(data)
	}
}

func formatTable(data any) (string, error) {
	if data == nil {
		return "", nil
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", nil
		}
		v = v.Elem()
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "No items", nil
		}
		headers := fieldNames(v.Index(0).Interface())
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		for i := 0; i < v.Len(); i++ {
			fmt.Fprintln(w, strings.Join(fieldValues(v.Index(i).Interface(), headers), "\t"))
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			fmt.Fprintf(w, "%v\t%s\n", iter.Key(), formatValue(iter.Value().Interface()))
		}
	case reflect.Struct:
		headers := fieldNames(v.Interface())
		values := fieldValues(v.Interface(), headers)
		for i, h := range headers {
			fmt.Fprintf(w, "%s\t%s\n", h, values[i])
		}
	default:
		return fmt.Sprintf("%v", data), nil
	}

	w.Flush()
	return sb.String(), nil
}

// fieldNames lists a struct's exported fields using json tags when set.
func fieldNames(data any) []string {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return []string{"value"}
	}

	t := v.Type()
	var fields []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		fields = append(fields, tagName(field))
	}
	return fields
}

func tagName(field reflect.StructField) string {
	name := field.Tag.Get("json")
	if name == "" || name == "-" {
		return field.Name
	}
	if idx := strings.Index(name, ","); idx != -1 {
		name = name[:idx]
	}
	return name
}

func fieldValues(data any, fields []string) []string {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	values := make([]string, len(fields))
	if v.Kind() != reflect.Struct {
		if len(values) > 0 {
			values[0] = formatValue(data)
		}
		return values
	}

	t := v.Type()
	byName := make(map[string]int)
	for i := 0; i < t.NumField(); i++ {
		byName[tagName(t.Field(i))] = i
	}

	for i, field := range fields {
		if idx, ok := byName[field]; ok {
			values[i] = formatValue(v.Field(idx).Interface())
		}
	}
	return values
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
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%.2f", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
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

func PrintError(err error, opts *OutputOptions) {
	switch opts.Format {
	case OutputJSON:
		data := map[string]any{"success": false, "error": map[string]string{"message": err.Error()}}
		b, _ := json.MarshalIndent(data, "", "  ")
		fmt.Fprintln(os.Stderr, string(b))
	case OutputYAML:
		data := map[string]any{"success": false, "error": map[string]string{"message": err.Error()}}
		b, _ := yaml.Marshal(data)
		fmt.Fprint(os.Stderr, string(b))
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

func PrintSuccess(message string, opts *OutputOptions) {
	if opts.Quiet {
		return
	}

	switch opts.Format {
	case OutputJSON:
		data := map[string]any{"success": true, "message": message}
		b, _ := json.MarshalIndent(data, "", "  ")
		fmt.Fprintln(opts.Writer, string(b))
	case OutputYAML:
		data := map[string]any{"success": true, "message": message}
		b, _ := yaml.Marshal(data)
		fmt.Fprint(opts.Writer, string(b))
	default:
		fmt.Fprintln(opts.Writer, message)
	}
}

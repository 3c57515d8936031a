// Package parser converts YAML/JSON dataset files into variable tables.
package parser

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/pkg/types"
	"gopkg.in/yaml.v3"
)

// MaxSourceSize is the maximum dataset file size in bytes (1 MB).
const MaxSourceSize = 1024 * 1024

// MaxRows is the maximum number of rows in one dataset.
const MaxRows = 10000

// ParseError represents an error encountered while parsing a dataset.
type ParseError struct {
	Message  string
	Location string // e.g., "row 2, column 'b'"
}

func (e *ParseError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("parse error at %s: %s", e.Location, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

// DatasetFile is a parsed dataset document.
type DatasetFile struct {
	Name        string
	Description string
	Rows        []store.Row
}

// Parse parses a YAML or JSON dataset document. The document is either a
// mapping with an optional description and a rows list:
//
//	description: sample
//	rows:
//	  - {a: 1, b: 3.0}
//
// or a bare list of rows. A mapping with a "variables" key holding a single
// row is accepted as well.
func Parse(source []byte) (*DatasetFile, error) {
	if len(source) > MaxSourceSize {
		return nil, &ParseError{Message: fmt.Sprintf("dataset size %d exceeds maximum %d bytes", len(source), MaxSourceSize)}
	}

	var raw yaml.Node
	if err := yaml.Unmarshal(source, &raw); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if raw.Kind != yaml.DocumentNode || len(raw.Content) == 0 {
		return nil, &ParseError{Message: "empty dataset definition"}
	}

	root := raw.Content[0]
	ds := &DatasetFile{}

	switch root.Kind {
	case yaml.SequenceNode:
		rows, err := parseRows(root)
		if err != nil {
			return nil, err
		}
		ds.Rows = rows
		return ds, nil
	case yaml.MappingNode:
	default:
		return nil, &ParseError{Message: "dataset definition must be a mapping or a list of rows"}
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]
		switch key {
		case "description":
			if val.Kind != yaml.ScalarNode {
				return nil, &ParseError{Message: "description must be a string"}
			}
			ds.Description = val.Value
		case "rows":
			if val.Kind != yaml.SequenceNode {
				return nil, &ParseError{Message: "rows must be a list"}
			}
			rows, err := parseRows(val)
			if err != nil {
				return nil, err
			}
			ds.Rows = append(ds.Rows, rows...)
		case "variables":
			row, err := parseRow(val, "variables")
			if err != nil {
				return nil, err
			}
			ds.Rows = append(ds.Rows, row)
		default:
			return nil, &ParseError{Message: fmt.Sprintf("unknown field %q", key)}
		}
	}

	if len(ds.Rows) > MaxRows {
		return nil, &ParseError{Message: fmt.Sprintf("dataset has %d rows, maximum is %d", len(ds.Rows), MaxRows)}
	}
	return ds, nil
}

func parseRows(node *yaml.Node) ([]store.Row, error) {
	if len(node.Content) > MaxRows {
		return nil, &ParseError{Message: fmt.Sprintf("dataset has %d rows, maximum is %d", len(node.Content), MaxRows)}
	}
	rows := make([]store.Row, 0, len(node.Content))
	for i, item := range node.Content {
		row, err := parseRow(item, fmt.Sprintf("row %d", i))
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var validColumn = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func parseRow(node *yaml.Node, loc string) (store.Row, error) {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Message: "row must be a mapping", Location: loc}
	}
	row := make(store.Row, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if !validColumn.MatchString(name) {
			return nil, &ParseError{Message: fmt.Sprintf("invalid column name %q", name), Location: loc}
		}
		v, err := scalarToValue(node.Content[i+1])
		if err != nil {
			return nil, &ParseError{Message: err.Error(), Location: fmt.Sprintf("%s, column '%s'", loc, name)}
		}
		row[name] = v
	}
	return row, nil
}

// scalarToValue converts a YAML scalar into an int, double or bool value.
func scalarToValue(node *yaml.Node) (types.Value, error) {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	if node.Kind != yaml.ScalarNode {
		return types.Null, fmt.Errorf("value must be a number or a boolean")
	}

	switch node.Tag {
	case "!!bool":
		b, err := strconv.ParseBool(strings.ToLower(node.Value))
		if err != nil {
			return types.Null, fmt.Errorf("invalid boolean %q", node.Value)
		}
		return types.NewBool(b), nil
	case "!!int":
		i, err := strconv.ParseInt(strings.ReplaceAll(node.Value, "_", ""), 0, 64)
		if err != nil {
			return types.Null, fmt.Errorf("invalid integer %q", node.Value)
		}
		return types.NewInt(i), nil
	case "!!float":
		return floatFromNode(node)
	case "!!null":
		return types.Null, fmt.Errorf("null is not a valid value")
	}
	return types.Null, fmt.Errorf("unsupported value %q (want int, float or bool)", node.Value)
}

// floatFromNode extracts a float from a scalar node, including the YAML
// spellings of infinity and NaN.
func floatFromNode(node *yaml.Node) (types.Value, error) {
	switch strings.ToLower(node.Value) {
	case ".inf", "+.inf":
		return types.NewDouble(math.Inf(1)), nil
	case "-.inf":
		return types.NewDouble(math.Inf(-1)), nil
	case ".nan":
		return types.NewDouble(math.NaN()), nil
	}
	f, err := strconv.ParseFloat(node.Value, 64)
	if err != nil {
		return types.Null, fmt.Errorf("invalid float %q", node.Value)
	}
	return types.NewDouble(f), nil
}

var validDatasetName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidDatasetName reports whether name can be used as a dataset ID.
func ValidDatasetName(name string) bool {
	return len(name) <= 128 && validDatasetName.MatchString(name)
}

// DatasetName derives a dataset ID from a file name: the lowercased stem.
func DatasetName(path string) string {
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// IsDatasetFile reports whether path has a dataset file extension.
func IsDatasetFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ParseFile reads and parses one dataset file. The dataset is named after
// the file.
func ParseFile(path string) (*DatasetFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ds, err := Parse(data)
	if err != nil {
		return nil, err
	}
	ds.Name = DatasetName(path)
	return ds, nil
}

// LoadDir parses every dataset file in dir. Files that fail to parse or
// carry an invalid name are reported in the joined error; the rest are
// still returned.
func LoadDir(dir string) ([]*DatasetFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading datasets directory: %w", err)
	}

	var files []*DatasetFile
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !IsDatasetFile(entry.Name()) {
			continue
		}
		name := DatasetName(entry.Name())
		if !ValidDatasetName(name) {
			errs = append(errs, fmt.Errorf("%s: invalid dataset name %q", entry.Name(), name))
			continue
		}
		ds, err := ParseFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}
		files = append(files, ds)
	}
	return files, errors.Join(errs...)
}

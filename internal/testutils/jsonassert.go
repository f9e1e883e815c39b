package testutils

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// MustJSON renders v as compact JSON, panicking on failure.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions control JSON comparison. Snapshots marshal nil device
// slices as null; NilToEmptyArray lets expectations spell those as [].
type JSONAssertOptions struct {
	NilToEmptyArray bool     `default:"true"`
	IgnoredFields   []string `default:""`
	Coloring        bool     `default:"false"`
}

// JSONOption is a functional option for configuring a JSONAsserter
type JSONOption func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports mismatches
// as a readable delta.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options.
func NewJSONAsserter(t *testing.T) *JSONAsserter {
	return NewJSONAsserterT(t)
}

// NewJSONAsserterT creates a JSONAsserter reporting through any TestingT.
func NewJSONAsserterT(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the asserter.
func (ja *JSONAsserter) WithOptions(opts ...JSONOption) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON structurally.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		ja.t.Errorf("invalid expected JSON: %v", err)
		return
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		ja.t.Errorf("invalid actual JSON: %v", err)
		return
	}

	expected = ja.normalize(expected)
	actual = ja.normalize(actual)

	// gojsondiff compares objects only; wrap root-level arrays.
	if isArray(expected) || isArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	left := MustJSON(expected)
	right := MustJSON(actual)

	diff, err := gojsondiff.New().Compare([]byte(left), []byte(right))
	if err != nil {
		ja.t.Errorf("JSON comparison failed: %v", err)
		return
	}
	if !diff.Modified() {
		return
	}

	var leftObj map[string]interface{}
	_ = json.Unmarshal([]byte(left), &leftObj)
	report, err := formatter.NewAsciiFormatter(leftObj, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       ja.options.Coloring,
	}).Format(diff)
	if err != nil {
		report = fmt.Sprintf("(failed to format delta: %v)", err)
	}
	ja.t.Errorf("JSON assertion failed:\n%s", report)
}

// AssertValue marshals v and compares it against expectedJSON.
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) {
	ja.Assert(MustJSON(v), expectedJSON)
}

// normalize applies the configured option transformations recursively.
func (ja *JSONAsserter) normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for _, field := range ja.options.IgnoredFields {
			delete(val, field)
		}
		for k, item := range val {
			val[k] = ja.normalize(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = ja.normalize(item)
		}
		return val
	case nil:
		if ja.options.NilToEmptyArray {
			return []interface{}{}
		}
		return nil
	default:
		return v
	}
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// WithNilToEmptyArray sets whether JSON null compares equal to [].
func WithNilToEmptyArray(enable bool) JSONOption {
	return func(opts *JSONAssertOptions) { opts.NilToEmptyArray = enable }
}

// WithIgnoredFields drops the named object fields everywhere before
// comparison.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(opts *JSONAssertOptions) { opts.IgnoredFields = append(opts.IgnoredFields, fields...) }
}

// WithJSONColoring enables colored delta output.
func WithJSONColoring(enable bool) JSONOption {
	return func(opts *JSONAssertOptions) { opts.Coloring = enable }
}

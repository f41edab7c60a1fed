// Package dataflow rewrites placeholder references in step parameters into
// the concrete outputs of earlier steps.
package dataflow

import (
	"regexp"
	"strconv"
	"strings"
)

// Outputs accumulates step outputs in the order they were produced.
// The zero value is ready to use.
type Outputs struct {
	byIndex map[int]string
	last    string
	count   int
}

// Record stores the output of step index. A later call for the same index
// replaces the value and makes it the most recent output.
func (o *Outputs) Record(index int, output string) {
	if o.byIndex == nil {
		o.byIndex = make(map[int]string)
	}
	o.byIndex[index] = output
	o.last = output
	o.count++
}

// Get returns the output recorded for index.
func (o *Outputs) Get(index int) (string, bool) {
	v, ok := o.byIndex[index]
	return v, ok
}

// Last returns the most recently recorded output.
func (o *Outputs) Last() string {
	return o.last
}

// Empty reports whether nothing has been recorded yet.
func (o *Outputs) Empty() bool {
	return o == nil || o.count == 0
}

var numericRef = regexp.MustCompile(`(?:OUTPUT_(?:FROM|OF)_STEP_|RESULT_OF_STEP_|\{\{\s*STEP_|previous_(?:skill|step)_result\(\s*)(\d+)`)

// vocabulary is matched case-insensitively as a substring.
var vocabulary = []string{
	"OUTPUT_FROM_PREVIOUS_STEP",
	"OUTPUT_OF_PREVIOUS_STEP",
	"PREVIOUS_STEP_OUTPUT",
	"PREVIOUS_STEP_RESULT",
	"LAST_RESULT",
	"PREVIOUS_RESULT",
	"OUTPUT_FROM_STEP_",
	"OUTPUT_OF_STEP_",
	"previous_skill_result",
	"previous result",
	"previous output",
	"output of previous step",
	"output of the previous step",
	"result of the previous step",
	"output from the previous step",
	"last result",
}

// positional is deliberately loose: "id 3" or "from 2" anywhere in the
// string counts as a reference. It can over-substitute literal text.
var positional = regexp.MustCompile(`(?i)(step|from|output|result|id)\s*[0-9]`)

// Resolve returns a copy of params where every string value that refers to a
// prior output is replaced by that output. Rules are tried in order and the
// first match wins:
//
//  1. numeric back-reference (OUTPUT_OF_STEP_<k>, {{STEP_<k>}}, ...) picks the
//     output of step k, or the most recent output when k is unknown;
//  2. a generic placeholder phrase picks the most recent output;
//  3. a position word next to a digit picks the most recent output.
//
// Non-string values are never rewritten. With no prior outputs the params are
// returned unchanged.
func Resolve(params map[string]any, outputs *Outputs) map[string]any {
	if params == nil {
		return nil
	}
	resolved := make(map[string]any, len(params))
	for k, v := range params {
		resolved[k] = v
	}
	if outputs.Empty() {
		return resolved
	}

	for key, value := range params {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if out, ok := resolveString(s, outputs); ok {
			resolved[key] = out
		}
	}
	return resolved
}

func resolveString(s string, outputs *Outputs) (string, bool) {
	if m := numericRef.FindStringSubmatch(s); m != nil {
		idx, err := strconv.Atoi(m[1])
		if err == nil {
			if out, ok := outputs.Get(idx); ok {
				return out, true
			}
		}
		return outputs.Last(), true
	}

	lower := strings.ToLower(s)
	for _, token := range vocabulary {
		if strings.Contains(lower, strings.ToLower(token)) {
			return outputs.Last(), true
		}
	}

	if positional.MatchString(s) {
		return outputs.Last(), true
	}
	return "", false
}

// IsPlaceholder reports whether s would be rewritten by Resolve given at
// least one prior output.
func IsPlaceholder(s string) bool {
	var sample Outputs
	sample.Record(0, "")
	_, ok := resolveString(s, &sample)
	return ok
}

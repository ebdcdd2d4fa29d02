// ABOUTME: Tests for the instruction block parser
// ABOUTME: Covers scalars, quoting, flow literals, bullet lists, key normalization and dropped lines

package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstructions_Scalars(t *testing.T) {
	in := ParseInstructions(`Platform: instagram
Post Count: 3
ratio: 1.5
draft: TRUE
publish: false
title: "Summer: Matte Black"
caption: 'single quoted'
url: https://example.com/wrap`)

	assert.Equal(t, 0, in.Dropped)
	assert.Equal(t, "instagram", in.Fields["platform"])
	assert.Equal(t, int64(3), in.Fields["post_count"])
	assert.Equal(t, 1.5, in.Fields["ratio"])
	assert.Equal(t, true, in.Fields["draft"])
	assert.Equal(t, false, in.Fields["publish"])
	assert.Equal(t, "Summer: Matte Black", in.Fields["title"])
	assert.Equal(t, "single quoted", in.Fields["caption"])
	assert.Equal(t, "https://example.com/wrap", in.Fields["url"])
}

func TestParseInstructions_QuotedValuesStayStrings(t *testing.T) {
	in := ParseInstructions(`count: "3"
flag: 'true'`)

	assert.Equal(t, "3", in.Fields["count"])
	assert.Equal(t, "true", in.Fields["flag"])
}

func TestParseInstructions_FlowLiterals(t *testing.T) {
	in := ParseInstructions(`hashtags: [wrap, "matte black", 3]
brand: {name: Wrap Studio, color: "#000"}
broken: [unterminated, list
also_broken: {a: [}`)

	assert.Equal(t, []any{"wrap", "matte black", 3}, in.Fields["hashtags"])
	assert.Equal(t, map[string]any{"name": "Wrap Studio", "color": "#000"}, in.Fields["brand"])
	assert.Equal(t, "[unterminated, list", in.Fields["broken"])
	assert.Equal(t, "{a: [}", in.Fields["also_broken"])
}

func TestParseInstructions_NonStringKeys(t *testing.T) {
	in := ParseInstructions(`sizes: {1: small, 2: large}
mixed: [1, {2: x}]
limits: [.inf]`)

	assert.Equal(t, map[string]any{"1": "small", "2": "large"}, in.Fields["sizes"])
	assert.Equal(t, []any{1, map[string]any{"2": "x"}}, in.Fields["mixed"])
	// Infinity has no JSON form, so the literal stays a string.
	assert.Equal(t, "[.inf]", in.Fields["limits"])

	_, err := json.Marshal(in.Fields)
	require.NoError(t, err)
}

func TestParseInstructions_QuotesMustWrapOneString(t *testing.T) {
	in := ParseInstructions(`both: "a" and "b"
single_both: 'a' and 'b'
escaped: "say \"hi\""
doubled: 'it''s'
path: "C:\wraps\matte"`)

	assert.Equal(t, `"a" and "b"`, in.Fields["both"])
	assert.Equal(t, `'a' and 'b'`, in.Fields["single_both"])
	assert.Equal(t, `say "hi"`, in.Fields["escaped"])
	assert.Equal(t, "it's", in.Fields["doubled"])
	assert.Equal(t, `C:\wraps\matte`, in.Fields["path"])
}

func TestParseInstructions_BulletContinuation(t *testing.T) {
	in := ParseInstructions(`shots:
- wide exterior
* close up: door handle
- 42
tone: bold
empty:`)

	assert.Equal(t, []any{"wide exterior", "close up: door handle", int64(42)}, in.Fields["shots"])
	assert.Equal(t, "bold", in.Fields["tone"])
	assert.Equal(t, "", in.Fields["empty"])
	assert.Equal(t, 0, in.Dropped)
}

func TestParseInstructions_BulletsNeedAnOpenList(t *testing.T) {
	in := ParseInstructions(`tone: bold
- stray item`)

	assert.Equal(t, "bold", in.Fields["tone"])
	assert.Equal(t, 1, in.Dropped)
}

func TestParseInstructions_DropsLinesWithoutColon(t *testing.T) {
	in := ParseInstructions("Make it pop\nplatform: tiktok\n\n   \nno separator here\n: no key")

	require.Len(t, in.Fields, 1)
	assert.Equal(t, "tiktok", in.Fields["platform"])
	assert.Equal(t, 3, in.Dropped)
}

func TestParseInstructions_UnknownKeysKept(t *testing.T) {
	in := ParseInstructions("X-Custom   Field: whatever\r\nanother: 1")

	assert.Equal(t, "whatever", in.Fields["x-custom_field"])
	assert.Equal(t, int64(1), in.Fields["another"])
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"-7", int64(-7)},
		{".5", 0.5},
		{"3.", 3.0},
		{"1e9", "1e9"},
		{"NaN", "NaN"},
		{"1.2.3", "1.2.3"},
		{`"`, `"`},
		{"[]", []any{}},
		{"{}", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.in))
		})
	}
}

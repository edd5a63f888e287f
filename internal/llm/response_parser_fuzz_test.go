package llm

import (
	"testing"
)

// ============================================================================
// FuzzParseTagResponse - fuzzes tag extraction JSON parsing
// ============================================================================

func FuzzParseTagResponse(f *testing.F) {
	f.Add(`{"tags": [{"type": "person", "value": "Ana"}]}`)
	f.Add(``)
	f.Add(`{"tags": null}`)
	f.Add(`not json at all`)
	f.Add("```json\n{\"tags\": []}\n```")
	f.Add(`{"tags": [{"type": "person"`)
	f.Add(`[{"type": "emotion", "value": "joy"}]`)
	f.Add(`{"tags": [{"type": null, "value": 3}]}`)
	f.Add(`{"tags": "nope"}`)
	f.Add(`{{{`)
	f.Add(`]]]`)
	f.Add(`Text before [{"type": "place", "value": "Lisboa"}] text after`)
	f.Add(`{"tags": [{"type": "belief", "value": "José \"Pepe\" García"}]}`)
	f.Add(`Note (see [1]) {"tags": [{"type": "person", "value": "Ana"}]}`)

	f.Fuzz(func(t *testing.T, input string) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("ParseTagResponse panicked on input %q: %v", input, r)
			}
		}()
		set, err := ParseTagResponse(input)
		if err != nil {
			return
		}
		if len(set) > MaxExtractedTags {
			t.Errorf("ParseTagResponse returned %d tags, max is %d", len(set), MaxExtractedTags)
		}
		for _, p := range set {
			if p.Type == "" || p.Value == "" {
				t.Errorf("ParseTagResponse returned blank tag %+v for input %q", p, input)
			}
		}
	})
}

package crews

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crewflow/types"
)

func TestTask_Render(t *testing.T) {
	bb := NewBlackboard()
	require.NoError(t, bb.Put(Output{TaskID: "research", Raw: "Go is fast."}))
	require.NoError(t, bb.Put(Output{TaskID: "outline", Raw: `{"sections":2}`, Value: map[string]any{"sections": int64(2)}}))

	tests := []struct {
		name         string
		tmpl         string
		placeholders []string
		inputs       map[string]any
		want         string
	}{
		{"plain text", "no placeholders", nil, nil, "no placeholders"},
		{"input", "Write about {topic}.", []string{"topic"}, map[string]any{"topic": "Go"}, "Write about Go."},
		{"whitespace trimmed", "Write about {  topic }.", []string{"topic"}, map[string]any{"topic": "Go"}, "Write about Go."},
		{"number input", "Limit: {n}", []string{"n"}, map[string]any{"n": 3}, "Limit: 3"},
		{"task output", "Summarise: {research}", []string{"research"}, nil, "Summarise: Go is fast."},
		{"inputs win over task ids", "{research}", []string{"research"}, map[string]any{"research": "override"}, "override"},
		{"structured output pretty-printed", "{outline}", []string{"outline"}, nil, "{\n  \"sections\": 2\n}"},
		{"previous", "Fix: {previous}", []string{"previous"}, nil, "Fix: {\n  \"sections\": 2\n}"},
		{"escaped braces", "JSON like {{\"a\": {topic}}}", []string{"topic"}, map[string]any{"topic": "1"}, "JSON like {\"a\": 1}"},
		{"repeated placeholder", "{topic} and {topic}", []string{"topic"}, map[string]any{"topic": "Go"}, "Go and Go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{ID: "t", Description: tt.tmpl, Placeholders: tt.placeholders}
			got, err := task.Render(tt.inputs, bb)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTask_RenderErrors(t *testing.T) {
	tests := []struct {
		name         string
		tmpl         string
		placeholders []string
		placeholder  string
	}{
		{"undeclared", "Write about {topic}", nil, "topic"},
		{"unresolved", "Write about {topic}", []string{"topic"}, "topic"},
		{"previous on empty blackboard", "{previous}", []string{"previous"}, "previous"},
		{"unclosed", "Write about {topic", []string{"topic"}, ""},
		{"unmatched close", "a } b", nil, ""},
		{"empty", "a {  } b", nil, ""},
		{"nested", "a {x{y}} b", []string{"x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{ID: "t1", Description: tt.tmpl, Placeholders: tt.placeholders}
			_, err := task.Render(nil, NewBlackboard())
			require.Error(t, err)

			var terr *TemplateError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, "t1", terr.Task)
			assert.Equal(t, tt.placeholder, terr.Placeholder)
			assert.Equal(t, types.ErrTemplate, types.GetErrorCode(err))
		})
	}
}

func TestTask_Prompt(t *testing.T) {
	task := &Task{ID: "t", Description: "Write a haiku.", ExpectedOutput: "Three lines."}
	got, err := task.Prompt(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Write a haiku.\n\nExpected output: Three lines.", got)
}

func TestPlaceholders(t *testing.T) {
	names, err := Placeholders("{a} {{literal}} { b } {a} {c}")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	_, err = Placeholders("{open")
	assert.Equal(t, types.ErrTemplate, types.GetErrorCode(err))
}

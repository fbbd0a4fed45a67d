package toolresult

import (
	"testing"

	"github.com/frevagpt/orchestrator/internal/streamvariant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCodeInterpreterStdoutAndResultRepr(t *testing.T) {
	raw := []byte(`{"structuredContent":{"stdout":"hello\n","result_repr":"2"}}`)
	summary, err := Parse(raw, "code_interpreter", "c1", nil)
	require.NoError(t, err)

	require.Len(t, summary.Variants, 1)
	assert.Equal(t, streamvariant.KindCodeOutput, summary.Variants[0].Kind)
	assert.Equal(t, "\nhello\n\n2", summary.Variants[0].Output)
	assert.Equal(t, "c1", summary.Variants[0].ID)
	assert.False(t, summary.IsError)

	require.Len(t, summary.Messages, 1)
	assert.Equal(t, "tool", summary.Messages[0].Role)
	assert.Equal(t, "c1", summary.Messages[0].ToolCallID)
}

func TestParseCodeInterpreterErrorSetsIsError(t *testing.T) {
	raw := []byte(`{"structuredContent":{"stdout":"partial","stderr":"traceback"}}`)
	summary, err := Parse(raw, "code_interpreter", "c2", nil)
	require.NoError(t, err)

	require.Len(t, summary.Variants, 1)
	assert.Equal(t, "\npartial\ntraceback", summary.Variants[0].Output)
	assert.True(t, summary.IsError)
}

func TestParseCodeInterpreterEmptyOutputStillEmitsVariant(t *testing.T) {
	raw := []byte(`{"structuredContent":{}}`)
	summary, err := Parse(raw, "code_interpreter", "c3", nil)
	require.NoError(t, err)

	require.Len(t, summary.Variants, 1)
	assert.Equal(t, "", summary.Variants[0].Output)
	assert.False(t, summary.IsError)
}

func TestParseCodeInterpreterDisplayDataImageAndJSON(t *testing.T) {
	raw := []byte(`{"structuredContent":{"stdout":"ok","display_data":[
		{"image/png":"BASE64DATA"},
		{"application/json":"{\"x\":1}"}
	]}}`)
	summary, err := Parse(raw, "code_interpreter", "c4", nil)
	require.NoError(t, err)

	require.Len(t, summary.Variants, 3)
	assert.Equal(t, streamvariant.KindCodeOutput, summary.Variants[0].Kind)
	assert.Equal(t, streamvariant.KindImage, summary.Variants[1].Kind)
	assert.Equal(t, "c4_0", summary.Variants[1].ID)
	assert.Equal(t, "BASE64DATA", summary.Variants[1].B64)
	assert.Equal(t, streamvariant.KindCodeOutput, summary.Variants[2].Kind)
	assert.Equal(t, "c4:json", summary.Variants[2].ID)
	assert.Equal(t, `{"x":1}`, summary.Variants[2].Output)

	// Image variant's follow-up message pair includes the announcing user
	// message plus the image_url content part.
	var sawImageMessage bool
	for _, m := range summary.Messages {
		if m.Role == "user" {
			if _, ok := m.Content.(string); !ok {
				sawImageMessage = true
			}
		}
	}
	assert.True(t, sawImageMessage)
}

func TestParseCodeInterpreterGenericFallback(t *testing.T) {
	raw := []byte(`{"content":{"text":"computed 4"}}`)
	summary, err := Parse(raw, "code_interpreter", "c5", nil)
	require.NoError(t, err)

	require.Len(t, summary.Variants, 1)
	assert.Equal(t, "computed 4", summary.Variants[0].Output)
	assert.True(t, summary.IsError)
}

func TestParseCodeInterpreterErrorFallback(t *testing.T) {
	raw := []byte(`{"error":"sandbox unreachable"}`)
	summary, err := Parse(raw, "code_interpreter", "c6", nil)
	require.NoError(t, err)

	require.Len(t, summary.Variants, 1)
	assert.Equal(t, "Code-Server: sandbox unreachable", summary.Variants[0].Output)
	assert.True(t, summary.IsError)
}

func TestParseWebSearchStructuredResult(t *testing.T) {
	raw := []byte(`{"structuredContent":{"result":"top hits..."}}`)
	summary, err := Parse(raw, "web_search", "w1", nil)
	require.NoError(t, err)

	require.Len(t, summary.Variants, 1)
	assert.Equal(t, streamvariant.KindToolOutput, summary.Variants[0].Kind)
	assert.Equal(t, "top hits...", summary.Variants[0].Output)
	assert.Equal(t, "web-search", summary.Variants[0].ToolName)
	assert.False(t, summary.IsError)
}

func TestParseWebSearchErrorFallback(t *testing.T) {
	raw := []byte(`{"error":"rate limited"}`)
	summary, err := Parse(raw, "web_search", "w2", nil)
	require.NoError(t, err)

	require.Len(t, summary.Variants, 1)
	assert.Equal(t, streamvariant.KindServerError, summary.Variants[0].Kind)
	assert.Equal(t, "Web-Search-Server: rate limited", summary.Variants[0].Text)
	assert.True(t, summary.IsError)
}

func TestParseUnknownToolIsError(t *testing.T) {
	summary, err := Parse([]byte(`{}`), "some_unimplemented_tool", "u1", nil)
	require.NoError(t, err)
	assert.True(t, summary.IsError)
	assert.Empty(t, summary.Variants)
}

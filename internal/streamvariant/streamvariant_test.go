package streamvariant

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupSynthesizesMissingCodeOutput(t *testing.T) {
	conv := Conversation{
		NewUser("run it"),
		NewCode("print(1)", "c1"),
		NewAssistant("done", ""),
	}

	cleaned := Cleanup(conv, false, nil)

	require.Len(t, cleaned, 4)
	assert.Equal(t, KindCodeOutput, cleaned[2].Kind)
	assert.Equal(t, "c1", cleaned[2].ID)
	assert.Equal(t, "", cleaned[2].Output)
}

func TestCleanupAllowsImageAndHintBetweenCodeAndOutput(t *testing.T) {
	conv := Conversation{
		NewCode("print(1)", "c1"),
		NewImage("BASE64", "image/png", "c1_0"),
		NewServerHint(map[string]any{"kind": "heartbeat"}),
		NewCodeOutput("1\n", "c1"),
	}

	cleaned := Cleanup(conv, false, nil)
	require.Len(t, cleaned, 4)
	assert.Equal(t, KindCodeOutput, cleaned[3].Kind)
	assert.Equal(t, "1\n", cleaned[3].Output)
}

func TestCleanupIsIdempotent(t *testing.T) {
	conv := Conversation{
		NewUser("hi"),
		NewCode("1+1", "c1"),
	}

	once := Cleanup(conv, true, nil)
	twice := Cleanup(once, true, nil)
	assert.Equal(t, once, twice)
}

func TestCleanupAppendsTerminalOnlyWhenMissing(t *testing.T) {
	conv := Conversation{NewUser("hi"), NewStreamEnd("Stream ended.")}
	cleaned := Cleanup(conv, true, nil)
	require.Len(t, cleaned, 2)
	assert.Equal(t, "Stream ended.", cleaned[1].Text)

	withoutEnd := Conversation{NewUser("hi")}
	cleaned2 := Cleanup(withoutEnd, true, nil)
	require.Len(t, cleaned2, 2)
	assert.Equal(t, unexpectedTerminalMessage, cleaned2[1].Text)
}

func TestNormalizeForPromptDropsMeta(t *testing.T) {
	conv := Conversation{
		NewServerHint("hint"),
		NewUser("hi"),
		NewServerError("oops"),
	}
	normalized := NormalizeForPrompt(conv, false, nil)
	for _, v := range normalized {
		assert.False(t, v.IsMeta())
	}
}

func TestFilterForClientDropsPromptAndDuplicateEnds(t *testing.T) {
	conv := Conversation{
		NewPrompt(`[{"role":"system","content":"x"}]`),
		NewUser("hi"),
		NewStreamEnd(unexpectedTerminalMessage),
		NewStreamEnd("Stream ended."),
	}
	filtered := FilterForClient(conv)
	require.Len(t, filtered, 2)
	assert.Equal(t, KindUser, filtered[0].Kind)
	assert.Equal(t, KindStreamEnd, filtered[1].Kind)
	assert.Equal(t, "Stream ended.", filtered[1].Text)
}

func TestWireRoundTripCode(t *testing.T) {
	v := NewCode(`{"code":"print(1)"}`, "c1")
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded Variant
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, v, decoded)
}

func TestWireAcceptsArrayFormWithoutTopLevelID(t *testing.T) {
	raw := []byte(`{"variant":"CodeOutput","content":["1\n","c1"]}`)
	var decoded Variant
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "1\n", decoded.Output)
	assert.Equal(t, "c1", decoded.ID)
}

func TestWireServerHintDoubleEncoded(t *testing.T) {
	v := NewServerHint(map[string]any{"thread_id": "abc"})
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded Variant
	require.NoError(t, json.Unmarshal(data, &decoded))
	m, ok := decoded.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "abc", m["thread_id"])
}

func TestToChatMessagesCodeAndOutput(t *testing.T) {
	conv := Conversation{
		NewCode(`{"code":"print(1)"}`, "c1"),
		NewCodeOutput("1\n", "c1"),
	}
	msgs := ToChatMessages(conv, true, false, nil)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[0].Role)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "code_interpreter", msgs[0].ToolCalls[0].Function.Name)
	assert.Equal(t, "tool", msgs[1].Role)
	assert.Equal(t, "c1", msgs[1].ToolCallID)
}

func TestToChatMessagesDropsImagesWhenDisabled(t *testing.T) {
	conv := Conversation{NewImage("BASE64", "image/png", "c1_0")}
	assert.Empty(t, ToChatMessages(conv, false, false, nil))
	assert.Len(t, ToChatMessages(conv, true, false, nil), 1)
}

func TestToChatMessagesSkipsMalformedPromptEntries(t *testing.T) {
	conv := Conversation{NewPrompt(`[{"role":"bogus","content":"x"},{"role":"user","content":"hi"}]`)}
	msgs := ToChatMessages(conv, true, false, nil)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

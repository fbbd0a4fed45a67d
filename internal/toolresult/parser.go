// Package toolresult implements the Tool-Result Parser (C6, spec.md §4.6):
// turning a tool server's raw JSON-RPC result into Stream Variants plus the
// chat messages the model needs to see the tool's output. The code_interpreter
// structured-content shape (stdout/stderr/result_repr/display_data/error) and
// the plain tools' {content:{text}} / {error} fallback are both grounded on
// original_source/src/services/streaming/tool_calls.py's parse_code_interpreter_result
// and parse_web_search_result; the explicit per-tool result struct follows the
// teacher's internal/streaming/tool_executor.go pattern of typed result structs
// rather than an untyped map walk.
package toolresult

import (
	"encoding/json"
	"fmt"

	"github.com/frevagpt/orchestrator/internal/logger"
	"github.com/frevagpt/orchestrator/internal/streamvariant"
)

const (
	toolNameCodeInterpreter = "code_interpreter"
	toolNameWebSearch       = "web_search"
)

// FinalSummary is the parsed outcome of one tool invocation (spec.md §4.6
// FinalSummary): the Stream Variants to append to the conversation, the chat
// messages to feed back to the model, and whether the tool reported an error.
type FinalSummary struct {
	Variants []streamvariant.Variant
	Messages []streamvariant.ChatMessage
	IsError  bool
}

// structuredContent is code_interpreter's rich result shape.
type structuredContent struct {
	Stdout      string              `json:"stdout"`
	Stderr      string              `json:"stderr"`
	ResultRepr  string              `json:"result_repr"`
	Error       string              `json:"error"`
	DisplayData []map[string]string `json:"display_data"`
}

type toolResultEnvelope struct {
	StructuredContent json.RawMessage `json:"structuredContent"`
	Content           *struct {
		Text string `json:"text"`
	} `json:"content"`
	Error string `json:"error"`
}

type webSearchStructuredContent struct {
	Result string `json:"result"`
}

// Parse turns a tool server's raw JSON-RPC result into a FinalSummary
// (spec.md §4.6). toolName selects the per-tool shape; callID correlates the
// emitted variants back to the originating Code/tool-call id.
func Parse(resultTxt json.RawMessage, toolName, callID string, log *logger.Logger) (FinalSummary, error) {
	switch toolName {
	case toolNameCodeInterpreter:
		return parseCodeInterpreterResult(resultTxt, callID, log)
	case toolNameWebSearch:
		return parseWebSearchResult(resultTxt, callID, log)
	default:
		if log != nil {
			log.Warn("toolresult: no output processing function for tool, treating as error", "tool", toolName)
		}
		return FinalSummary{IsError: true}, nil
	}
}

func parseCodeInterpreterResult(resultTxt json.RawMessage, id string, log *logger.Logger) (FinalSummary, error) {
	var env toolResultEnvelope
	if err := json.Unmarshal(resultTxt, &env); err != nil {
		return FinalSummary{}, fmt.Errorf("toolresult: malformed code_interpreter result: %w", err)
	}

	variants := make([]streamvariant.Variant, 0, 2)
	messages := make([]streamvariant.ChatMessage, 0, 2)

	if len(env.StructuredContent) == 0 {
		var out string
		isError := true
		if env.Error != "" {
			out = "Code-Server: " + env.Error
		} else if env.Content != nil && env.Content.Text != "" {
			out = env.Content.Text
		} else {
			out = "Unknown code interpreter response."
		}

		codeOut := streamvariant.NewCodeOutput(out, id)
		variants = append(variants, codeOut)
		messages = append(messages, toChatMessages(streamvariant.Conversation{codeOut}, false, log)...)

		return FinalSummary{Variants: variants, Messages: messages, IsError: isError}, nil
	}

	var sc structuredContent
	if err := json.Unmarshal(env.StructuredContent, &sc); err != nil {
		return FinalSummary{}, fmt.Errorf("toolresult: malformed structuredContent: %w", err)
	}

	out := ""
	if sc.Stdout != "" {
		out += "\n" + sc.Stdout
	}
	if sc.ResultRepr != "" {
		out += "\n" + sc.ResultRepr
	}
	outError := ""
	if sc.Stderr != "" {
		outError += "\n" + sc.Stderr
	}
	if sc.Error != "" {
		outError += "\n" + sc.Error
	}

	var codeOutText string
	if out != "" || outError != "" {
		codeOutText = out + outError
	}
	// codeOutText == "" is still emitted deliberately: the model expects a
	// tool-result message even when the interpreter produced no output.

	codeOut := streamvariant.NewCodeOutput(codeOutText, id)
	variants = append(variants, codeOut)
	messages = append(messages, toChatMessages(streamvariant.Conversation{codeOut}, false, log)...)

	for i, item := range sc.DisplayData {
		if png, ok := item["image/png"]; ok {
			imageID := fmt.Sprintf("%s_%d", id, i)
			img := streamvariant.NewImage(png, "image/png", imageID)
			variants = append(variants, img)

			announce := streamvariant.NewUser("Here is the image returned by the Code Interpreter.")
			messages = append(messages, toChatMessages(streamvariant.Conversation{announce, img}, true, log)...)
		}

		if js, ok := item["application/json"]; ok {
			jsonOut := streamvariant.NewCodeOutput(js, id+":json")
			variants = append(variants, jsonOut)
			messages = append(messages, toChatMessages(streamvariant.Conversation{jsonOut}, false, log)...)
		}
	}

	return FinalSummary{Variants: variants, Messages: messages, IsError: outError != ""}, nil
}

func parseWebSearchResult(resultTxt json.RawMessage, id string, log *logger.Logger) (FinalSummary, error) {
	var env toolResultEnvelope
	if err := json.Unmarshal(resultTxt, &env); err != nil {
		return FinalSummary{}, fmt.Errorf("toolresult: malformed web_search result: %w", err)
	}

	var v streamvariant.Variant
	isError := false

	if len(env.StructuredContent) > 0 {
		var sc webSearchStructuredContent
		if err := json.Unmarshal(env.StructuredContent, &sc); err != nil {
			return FinalSummary{}, fmt.Errorf("toolresult: malformed web_search structuredContent: %w", err)
		}
		v = streamvariant.NewToolOutput(sc.Result, "web-search", id)
	} else {
		var out string
		if env.Error != "" {
			out = "Web-Search-Server: " + env.Error
		} else if env.Content != nil && env.Content.Text != "" {
			out = env.Content.Text
		} else {
			out = "Unknown web-search response."
		}
		v = streamvariant.NewServerError(out)
		isError = true
	}

	messages := toChatMessages(streamvariant.Conversation{v}, false, log)
	return FinalSummary{Variants: []streamvariant.Variant{v}, Messages: messages, IsError: isError}, nil
}

// toChatMessages renders follow-up tool messages with meta variants (ToolOutput,
// ServerError) included, since these calls exist specifically to report a tool
// result back to the model.
func toChatMessages(conv streamvariant.Conversation, includeImages bool, log *logger.Logger) []streamvariant.ChatMessage {
	return streamvariant.ToChatMessages(conv, includeImages, true, log)
}

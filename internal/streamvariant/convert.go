package streamvariant

import (
	"encoding/json"
	"fmt"

	"github.com/frevagpt/orchestrator/internal/logger"
)

// ChatMessage is an OpenAI-compatible chat-completion message (spec.md §4.1
// to_chat_messages, §6 LLM-completion contract).
type ChatMessage struct {
	Role       string      `json:"role"`
	Name       string      `json:"name,omitempty"`
	Content    interface{} `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ToolCall is the assistant-authored tool invocation embedded in a ChatMessage.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type imageContentPart struct {
	Type     string         `json:"type"`
	ImageURL imageURLObject `json:"image_url"`
}

type imageURLObject struct {
	URL string `json:"url"`
}

// ToChatMessages renders a Conversation into chat-completion messages (spec.md
// §4.1). includeImages controls whether Image variants are emitted as image_url
// content parts; includeMeta controls whether out-of-band variants render as
// system messages.
func ToChatMessages(conv Conversation, includeImages, includeMeta bool, log *logger.Logger) []ChatMessage {
	out := make([]ChatMessage, 0, len(conv))

	for _, v := range conv {
		switch v.Kind {
		case KindPrompt:
			var raw []map[string]interface{}
			if err := json.Unmarshal([]byte(v.Payload), &raw); err != nil {
				if log != nil {
					log.Warn("to_chat_messages: malformed Prompt payload, skipping", "error", err.Error())
				}
				continue
			}
			for _, m := range raw {
				role, _ := m["role"].(string)
				if !isValidRole(role) {
					if log != nil {
						log.Warn("to_chat_messages: Prompt entry with invalid role, skipping", "role", role)
					}
					continue
				}
				out = append(out, ChatMessage{
					Role:       role,
					Name:       stringField(m, "name"),
					Content:    m["content"],
					ToolCallID: stringField(m, "tool_call_id"),
				})
			}

		case KindUser:
			out = append(out, ChatMessage{Role: "user", Content: v.Text})

		case KindAssistant:
			out = append(out, ChatMessage{Role: "assistant", Name: v.Name, Content: v.Text})

		case KindCode:
			argsJSON, _ := json.Marshal(map[string]string{"code": v.Code})
			out = append(out, ChatMessage{
				Role:    "assistant",
				Name:    v.Name,
				Content: nil,
				ToolCalls: []ToolCall{{
					ID:   v.ID,
					Type: "function",
					Function: ToolCallFunction{
						Name:      "code_interpreter",
						Arguments: string(argsJSON),
					},
				}},
			})

		case KindCodeOutput:
			out = append(out, ChatMessage{
				Role:       "tool",
				Name:       "code_interpreter",
				ToolCallID: v.ID,
				Content:    v.Output,
			})

		case KindImage:
			if !includeImages {
				continue
			}
			url := fmt.Sprintf("data:%s;base64,%s", v.MIME, v.B64)
			out = append(out, ChatMessage{
				Role: "user",
				Content: []imageContentPart{{
					Type:     "image_url",
					ImageURL: imageURLObject{URL: url},
				}},
			})

		case KindToolOutput, KindServerHint, KindServerError, KindOpenAIError, KindCodeError, KindStreamEnd:
			if !includeMeta {
				continue
			}
			out = append(out, metaAsSystemMessage(v))
		}
	}

	return out
}

func metaAsSystemMessage(v Variant) ChatMessage {
	switch v.Kind {
	case KindToolOutput:
		return ChatMessage{Role: "system", Name: string(v.Kind), Content: v.Output}
	case KindServerHint:
		data, _ := json.Marshal(v.Data)
		return ChatMessage{Role: "system", Name: string(v.Kind), Content: string(data)}
	default:
		return ChatMessage{Role: "system", Name: string(v.Kind), Content: v.Text}
	}
}

func isValidRole(role string) bool {
	switch role {
	case "system", "user", "assistant", "tool":
		return true
	default:
		return false
	}
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

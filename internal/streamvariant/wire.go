package streamvariant

import (
	"encoding/json"
	"fmt"
)

// wireEvent is the on-the-wire shape of a Variant: {"variant","content"[,"id"]}
// plus a handful of kind-specific extra fields (spec.md §4.1, §6 "Wire event
// shape"). Code/CodeOutput are written with content packed as a 2-element
// array [payload, id] (the id is also set at the top level); on reading, a
// plain string content with a top-level id is accepted as well.
type wireEvent struct {
	Variant  string          `json:"variant"`
	Content  json.RawMessage `json:"content"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	MIME     string          `json:"mime,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
}

// MarshalJSON implements the wire encoding for a Variant.
func (v Variant) MarshalJSON() ([]byte, error) {
	ev := wireEvent{Variant: string(v.Kind), ID: v.ID}

	switch v.Kind {
	case KindPrompt:
		raw, err := json.Marshal(v.Payload)
		if err != nil {
			return nil, err
		}
		ev.Content = raw
	case KindUser, KindAssistant, KindServerError, KindOpenAIError, KindCodeError, KindStreamEnd:
		raw, err := json.Marshal(v.Text)
		if err != nil {
			return nil, err
		}
		ev.Content = raw
		ev.Name = v.Name
	case KindCode:
		raw, err := json.Marshal([2]string{v.Code, v.ID})
		if err != nil {
			return nil, err
		}
		ev.Content = raw
	case KindCodeOutput:
		raw, err := json.Marshal([2]string{v.Output, v.ID})
		if err != nil {
			return nil, err
		}
		ev.Content = raw
	case KindImage:
		raw, err := json.Marshal(v.B64)
		if err != nil {
			return nil, err
		}
		ev.Content = raw
		ev.MIME = v.MIME
	case KindToolOutput:
		raw, err := json.Marshal(v.Output)
		if err != nil {
			return nil, err
		}
		ev.Content = raw
		ev.ToolName = v.ToolName
	case KindServerHint:
		inner, err := json.Marshal(v.Data)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(string(inner))
		if err != nil {
			return nil, err
		}
		ev.Content = raw
	default:
		return nil, fmt.Errorf("streamvariant: unknown kind %q", v.Kind)
	}

	return json.Marshal(ev)
}

// UnmarshalJSON implements the wire decoding for a Variant, accepting both the
// 2-element array packing that MarshalJSON writes for Code/CodeOutput and a
// plain string content with a top-level id.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}

	kind := Kind(ev.Variant)
	out := Variant{Kind: kind, ID: ev.ID}

	switch kind {
	case KindPrompt:
		var s string
		if err := json.Unmarshal(ev.Content, &s); err != nil {
			return fmt.Errorf("streamvariant: Prompt content: %w", err)
		}
		out.Payload = s
	case KindUser, KindAssistant, KindServerError, KindOpenAIError, KindCodeError, KindStreamEnd:
		var s string
		if err := json.Unmarshal(ev.Content, &s); err != nil {
			return fmt.Errorf("streamvariant: %s content: %w", ev.Variant, err)
		}
		out.Text = s
		out.Name = ev.Name
	case KindCode:
		payload, id, err := decodeIDPacked(ev)
		if err != nil {
			return fmt.Errorf("streamvariant: Code content: %w", err)
		}
		out.Code = payload
		out.ID = id
	case KindCodeOutput:
		payload, id, err := decodeIDPacked(ev)
		if err != nil {
			return fmt.Errorf("streamvariant: CodeOutput content: %w", err)
		}
		out.Output = payload
		out.ID = id
	case KindImage:
		var s string
		if err := json.Unmarshal(ev.Content, &s); err != nil {
			return fmt.Errorf("streamvariant: Image content: %w", err)
		}
		out.B64 = s
		out.MIME = ev.MIME
	case KindToolOutput:
		var s string
		if err := json.Unmarshal(ev.Content, &s); err != nil {
			return fmt.Errorf("streamvariant: ToolOutput content: %w", err)
		}
		out.Output = s
		out.ToolName = ev.ToolName
	case KindServerHint:
		var s string
		if err := json.Unmarshal(ev.Content, &s); err == nil {
			var inner interface{}
			if err := json.Unmarshal([]byte(s), &inner); err == nil {
				out.Data = inner
			} else {
				out.Data = s
			}
		} else {
			var inner interface{}
			if err := json.Unmarshal(ev.Content, &inner); err != nil {
				return fmt.Errorf("streamvariant: ServerHint content: %w", err)
			}
			out.Data = inner
		}
	default:
		return fmt.Errorf("streamvariant: unknown variant %q", ev.Variant)
	}

	*v = out
	return nil
}

// decodeIDPacked accepts either the [payload, id] array form or a string content
// with a top-level id.
func decodeIDPacked(ev wireEvent) (payload, id string, err error) {
	var pair [2]string
	if err := json.Unmarshal(ev.Content, &pair); err == nil {
		return pair[0], pair[1], nil
	}
	var s string
	if err := json.Unmarshal(ev.Content, &s); err != nil {
		return "", "", err
	}
	return s, ev.ID, nil
}

package streamvariant

import "github.com/frevagpt/orchestrator/internal/logger"

const unexpectedTerminalMessage = "Stream ended in a very unexpected manner"

// Cleanup walks conv in order, synthesizing an empty CodeOutput for any Code whose
// matching CodeOutput never arrives (spec.md §4.1 cleanup). Image/ServerHint
// variants may intervene between a Code and its CodeOutput without breaking the
// pairing. When appendTerminal is true and the sequence doesn't already end with
// StreamEnd, a synthetic one is appended. log may be nil.
func Cleanup(conv Conversation, appendTerminal bool, log *logger.Logger) Conversation {
	out := make(Conversation, 0, len(conv)+1)
	pendingID := ""

	flushPending := func() {
		if pendingID != "" {
			out = append(out, NewCodeOutput("", pendingID))
			pendingID = ""
		}
	}

	for _, v := range conv {
		if pendingID != "" {
			switch {
			case v.Kind == KindCodeOutput && v.ID == pendingID:
				out = append(out, v)
				pendingID = ""
				continue
			case v.Kind == KindImage || v.Kind == KindServerHint:
				out = append(out, v)
				continue
			case v.Kind == KindCodeOutput:
				if log != nil {
					log.Warn("cleanup: CodeOutput id mismatch, synthesizing empty output for pending Code",
						"pending_id", pendingID, "got_id", v.ID)
				}
				flushPending()
			default:
				flushPending()
			}
		}

		out = append(out, v)
		if v.Kind == KindCode {
			pendingID = v.ID
		}
	}

	flushPending()

	if appendTerminal {
		if len(out) == 0 || !out[len(out)-1].IsTerminal() {
			out = append(out, NewStreamEnd(unexpectedTerminalMessage))
		}
	}

	return out
}

// NormalizeForPrompt applies Cleanup, then optionally drops meta/out-of-band
// variants (spec.md §4.1 normalize_for_prompt).
func NormalizeForPrompt(conv Conversation, includeMeta bool, log *logger.Logger) Conversation {
	cleaned := Cleanup(conv, true, log)
	if includeMeta {
		return cleaned
	}

	out := make(Conversation, 0, len(cleaned))
	for _, v := range cleaned {
		if v.IsMeta() {
			continue
		}
		out = append(out, v)
	}
	return out
}

// FilterForClient removes Prompt variants and collapses duplicate/"unexpected
// manner" StreamEnd markers, the shape spec.md §6 requires of GET /getthread:
// "returns wire events with Prompt removed and all StreamEnd except the final
// non-'unexpected' one elided."
func FilterForClient(conv Conversation) Conversation {
	out := make(Conversation, 0, len(conv))
	for _, v := range conv {
		if v.Kind == KindPrompt {
			continue
		}
		if v.Kind == KindStreamEnd {
			continue
		}
		out = append(out, v)
	}

	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Kind == KindStreamEnd && conv[i].Text != unexpectedTerminalMessage {
			out = append(out, conv[i])
			break
		}
	}

	return out
}

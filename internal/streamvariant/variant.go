// Package streamvariant implements the Event Model (spec.md §3/§4.1): the tagged
// union of stream events exchanged between the orchestrator, the conversation
// registry's history, and the HTTP boundary's wire encoding. The union is modeled
// as a single struct with a Kind discriminator and an explicit switch per
// operation, following spec.md §9's guidance to avoid runtime subclass traversal —
// no pack example carries a generated sum-type, so this is the idiomatic choice
// actually attested in the corpus (see DESIGN.md).
package streamvariant

// Kind discriminates the Stream Variant tagged union (spec.md §3).
type Kind string

const (
	KindPrompt      Kind = "Prompt"
	KindUser        Kind = "User"
	KindAssistant   Kind = "Assistant"
	KindCode        Kind = "Code"
	KindCodeOutput  Kind = "CodeOutput"
	KindImage       Kind = "Image"
	KindToolOutput  Kind = "ToolOutput"
	KindServerHint  Kind = "ServerHint"
	KindServerError Kind = "ServerError"
	KindOpenAIError Kind = "OpenAIError"
	KindCodeError   Kind = "CodeError"
	KindStreamEnd   Kind = "StreamEnd"
)

// Variant is one event in a Conversation. Only the fields relevant to Kind are
// populated; the rest are left zero. Constructors below are the supported way to
// build one so call sites can't mix fields across kinds by accident.
type Variant struct {
	Kind Kind

	Payload string // Prompt: JSON string of chat messages

	Text string // User/Assistant/ServerError/OpenAIError/CodeError/StreamEnd: message text
	Name string // Assistant: author name

	Code string // Code: source code

	Output   string // CodeOutput/ToolOutput: result text
	ToolName string // ToolOutput: originating tool name

	B64  string // Image: base64 payload
	MIME string // Image: mime type

	Data interface{} // ServerHint: object or string payload

	ID string // Code/CodeOutput/Image/ToolOutput: correlating call id
}

func NewPrompt(payload string) Variant { return Variant{Kind: KindPrompt, Payload: payload} }

func NewUser(text string) Variant { return Variant{Kind: KindUser, Text: text} }

func NewAssistant(text, name string) Variant {
	return Variant{Kind: KindAssistant, Text: text, Name: name}
}

func NewCode(code, id string) Variant { return Variant{Kind: KindCode, Code: code, ID: id} }

func NewCodeOutput(output, id string) Variant {
	return Variant{Kind: KindCodeOutput, Output: output, ID: id}
}

func NewImage(b64, mime, id string) Variant {
	return Variant{Kind: KindImage, B64: b64, MIME: mime, ID: id}
}

func NewToolOutput(output, toolName, id string) Variant {
	return Variant{Kind: KindToolOutput, Output: output, ToolName: toolName, ID: id}
}

func NewServerHint(data interface{}) Variant { return Variant{Kind: KindServerHint, Data: data} }

func NewServerError(message string) Variant { return Variant{Kind: KindServerError, Text: message} }

func NewOpenAIError(message string) Variant { return Variant{Kind: KindOpenAIError, Text: message} }

func NewCodeError(message string) Variant { return Variant{Kind: KindCodeError, Text: message} }

func NewStreamEnd(message string) Variant { return Variant{Kind: KindStreamEnd, Text: message} }

// Conversation is an ordered sequence of Stream Variants (spec.md §3).
type Conversation []Variant

// IsTerminal reports whether v is a StreamEnd marker.
func (v Variant) IsTerminal() bool { return v.Kind == KindStreamEnd }

// IsMeta reports whether v is one of the out-of-band/meta variants filtered by
// normalizeForPrompt when include_meta is false.
func (v Variant) IsMeta() bool {
	switch v.Kind {
	case KindServerHint, KindServerError, KindOpenAIError, KindCodeError, KindStreamEnd:
		return true
	default:
		return false
	}
}

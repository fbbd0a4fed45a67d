package httpapi

import (
	"os"

	"github.com/frevagpt/orchestrator/internal/streamvariant"
)

// defaultSystemPrompt is used when FREVAGPT_SYSTEM_PROMPT_FILE is unset or
// unreadable. Prompt-asset loading is a pure helper per spec.md §1 ("Topic
// summarization and prompt-asset loading -- treated as pure helpers"): its
// only contract obligation here is producing the chat messages prepended to
// every turn (spec.md §4.5 step B.1 "system_prompt").
const defaultSystemPrompt = "You are frevaGPT, a helpful assistant with access to a code interpreter and other tools. Use tools when they help answer the user accurately."

// BuildSystemPrompt returns the system_prompt chat messages for a turn,
// reading FREVAGPT_SYSTEM_PROMPT_FILE if set (one plain-text system prompt
// per file, grounded on the teacher's static-asset-file config pattern in
// internal/config/toolcatalogue.go) and falling back to defaultSystemPrompt.
func BuildSystemPrompt(promptFile string) []streamvariant.ChatMessage {
	text := defaultSystemPrompt
	if promptFile != "" {
		if data, err := os.ReadFile(promptFile); err == nil && len(data) > 0 {
			text = string(data)
		}
	}
	return []streamvariant.ChatMessage{{Role: "system", Content: text}}
}

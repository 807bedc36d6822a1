package worker

import "strings"

// RenderFallbackTemplate synthesizes the fallback chat-template rendering
// used when the tokenizer's own chat template fails to render (spec §4.4
// step "generate algorithm", text branch). The tokenizer's real chat
// template is part of the out-of-scope native library (spec §1); this
// fallback format is, however, explicitly specified and always available.
func RenderFallbackTemplate(messages []ChatMessage, addGenerationPrompt bool) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|im_start|>")
		b.WriteString(m.Role)
		b.WriteByte('\n')
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	if addGenerationPrompt {
		b.WriteString("<|im_start|>assistant\n")
	}
	return b.String()
}

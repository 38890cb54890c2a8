package qanoon

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/qanoon/internal/generate"
	"github.com/Aman-CERP/qanoon/internal/retrieve"
)

// Consult defaults.
const (
	ConsultK     = 8
	HistoryTurns = 6
	LanguageEN   = "en"
	LanguageUrdu = "ur"
)

// ConsultOption customizes a Consult call.
type ConsultOption func(*consultOptions)

type consultOptions struct {
	k        int
	language string
}

// InLanguage selects the answer language ("en" or "ur").
func InLanguage(lang string) ConsultOption {
	return func(o *consultOptions) { o.language = lang }
}

// WithK overrides the number of retrieved passages.
func WithK(k int) ConsultOption {
	return func(o *consultOptions) { o.k = k }
}

// Consult answers question from retrieved legal passages, carrying the last
// HistoryTurns turns of history.
func (s *Service) Consult(ctx context.Context, question string, history []generate.Message, opts ...ConsultOption) <-chan string {
	o := consultOptions{k: ConsultK, language: LanguageEN}
	for _, opt := range opts {
		opt(&o)
	}
	passages := s.Retrieve(ctx, question, o.k)
	return s.stream(ctx, buildMessages(question, passages, history, o.language))
}

// FormatContext renders passages as SOURCE blocks, or the no-context
// placeholder when there are none.
func FormatContext(passages []retrieve.Passage) string {
	if len(passages) == 0 {
		return generate.NoContextMessage
	}
	var b strings.Builder
	for _, p := range passages {
		fmt.Fprintf(&b, "\n--- SOURCE: %s ---\n%s\n", p.Title, p.Text)
	}
	return b.String()
}

func buildMessages(question string, passages []retrieve.Passage, history []generate.Message, language string) []generate.Message {
	if len(history) > HistoryTurns {
		history = history[len(history)-HistoryTurns:]
	}
	msgs := make([]generate.Message, 0, len(history)+2)
	msgs = append(msgs, generate.Message{Role: generate.RoleSystem, Content: systemPrompt(language)})
	for _, h := range history {
		if h.Role == generate.RoleSystem || strings.TrimSpace(h.Content) == "" {
			continue
		}
		msgs = append(msgs, h)
	}
	msgs = append(msgs, generate.Message{
		Role:    generate.RoleUser,
		Content: "DATA:\n" + FormatContext(passages) + "\n\nQUERY: " + question,
	})
	return msgs
}

func systemPrompt(language string) string {
	lang := "English"
	if language == LanguageUrdu {
		lang = "Urdu"
	}
	return "Role: You are Qanoon AI, a professional legal advisor for Pakistani law.\n" +
		"Task: Give a concise legal summary based strictly on the DATA provided.\n\n" +
		"Rules:\n" +
		"1. Keep the answer under 4 sentences or 60 words.\n" +
		"2. Speak directly. Never say 'according to the text'.\n" +
		"3. Do not invent penalties. Use only what the DATA contains.\n" +
		"4. End with the exact title or section of the source you used.\n\n" +
		"Language: " + lang + "."
}

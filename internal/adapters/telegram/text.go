package telegram

import "strings"

// messageLimit — максимальная длина текста сообщения в Bot API (в символах).
const messageLimit = 4096

// splitText режет текст на части не длиннее limit символов,
// по возможности по переводу строки.
func splitText(text string, limit int) []string {
	rest := []rune(strings.TrimSpace(text))
	var parts []string
	for len(rest) > limit {
		cut := limit
		if nl := lastNewline(rest[:limit]); nl > 0 {
			cut = nl
		}
		if part := strings.TrimRight(string(rest[:cut]), "\n"); part != "" {
			parts = append(parts, part)
		}
		rest = rest[cut:]
		for len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		parts = append(parts, string(rest))
	}
	return parts
}

// lastNewline возвращает позицию сразу после последнего '\n' или 0.
func lastNewline(runes []rune) int {
	for i := len(runes); i > 0; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	return 0
}

package formatter

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is the Telegram limit for one text message, in characters.
const MaxMessageLen = 4096

const keyMask = "*************"

// Skills is the introduction shown to users without an API key.
const Skills = `Here are the skills I can offer you,

-> text chat
-> have voice conversations
-> create images based on your requests.
-> analyze and review documents you provide.

To perform these tasks, you will need to provide your OpenAI API key.
Note: Please do not share your personal information and use a test API key. If you want to delete API key, you can use /off code.`

// EscapeMarkdown escapes Markdown special characters.
func EscapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"*", "\\*",
		"_", "\\_",
		"`", "\\`",
		"[", "\\[",
	)
	return replacer.Replace(s)
}

// MaskKey keeps the first and last three characters of key. Keys too short
// to keep anything secret are masked entirely.
func MaskKey(key string) string {
	r := []rune(key)
	if len(r) <= 6 {
		return keyMask
	}
	return string(r[:3]) + keyMask + string(r[len(r)-3:])
}

// Greeting is the first line sent on /start.
func Greeting(name string) string {
	return fmt.Sprintf("Hello %s, I'm TelegrativeAI 🤖🙂", EscapeMarkdown(name))
}

// Hello asks an authenticated user what to do next.
func Hello(name string) string {
	return fmt.Sprintf("Hello %s , What Can I Help With ?", EscapeMarkdown(name))
}

// KeyAccepted confirms a validated key without revealing it.
func KeyAccepted(key string) string {
	return fmt.Sprintf("Key : %s success", MaskKey(key))
}

// ReplyPrompt merges a replied-to message with the new text.
func ReplyPrompt(replied, text string) string {
	return fmt.Sprintf("%s in addition to %s", replied, text)
}

// SplitMessage cuts text into parts of at most limit characters, preferring
// line breaks. Text within the limit is returned as is.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLen
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	rest := []rune(text)
	for len(rest) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if rest[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(rest[:cut]), "\n"))
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		parts = append(parts, string(rest))
	}
	return parts
}

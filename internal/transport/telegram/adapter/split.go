package adapter

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// telegramTextLimit stays under Telegram's 4096 character cap.
const telegramTextLimit = 4000

// splitTelegramText breaks s into chunks of at most limit runes. A chunk ends
// after the last newline in its window when that keeps it at least a third
// full. In HTML mode a chunk never ends inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	html := strings.EqualFold(parseMode, tele.ModeHTML)

	rest := []rune(s)
	if len(rest) <= limit {
		return []string{s}
	}
	var out []string
	for len(rest) > limit {
		cut := cutPoint(rest[:limit], html)
		out = append(out, strings.TrimRight(string(rest[:cut]), "\n"))
		rest = rest[cut:]
		for len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		out = append(out, string(rest))
	}
	return out
}

func cutPoint(window []rune, html bool) int {
	n := len(window)
	if nl := lastIndex(window, '\n'); nl > 0 && nl >= n/3 {
		n = nl + 1
	}
	if html {
		if open := lastIndex(window[:n], '<'); open > 1 && open > lastIndex(window[:n], '>') {
			n = open
		}
	}
	return n
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

package router

import (
	"slices"
	"strings"

	kit "remindbot/internal/transport"
)

// Telegram setMyCommands limits.
const (
	maxCommandLen  = 32
	maxDescLen     = 256
	maxMenuEntries = 100
)

// sanitizeTelegramCommand folds s into Telegram's [a-z0-9_]{1,32} command
// alphabet. Runs of separators collapse into a single underscore.
func sanitizeTelegramCommand(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '/'
	})
	for i, w := range words {
		words[i] = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, w)
	}
	words = slices.DeleteFunc(words, func(w string) bool { return w == "" })
	out := strings.Join(words, "_")
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	return out
}

// buildMenuCommands lists public commands for the chat menu. Owner-only and
// hidden commands stay out of it.
func buildMenuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Hidden || c.Access == AccessOwnerOnly {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: menuDescription(c)})
	}
	slices.SortFunc(out, func(a, b kit.BotCommand) int { return strings.Compare(a.Command, b.Command) })
	if len(out) > maxMenuEntries {
		out = out[:maxMenuEntries]
	}
	return out
}

func menuDescription(c Command) string {
	d := strings.Join(strings.Fields(c.Description), " ")
	if d == "" {
		return c.Name
	}
	if r := []rune(d); len(r) > maxDescLen {
		d = string(r[:maxDescLen])
	}
	return d
}

package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in Telegram HTML. An empty name lists all commands
// visible to the caller.
func (m *Manager) helpText(name string, owner bool) string {
	m.mu.RLock()
	cmds := append([]Command(nil), m.cmds...)
	byName := m.byName
	m.mu.RUnlock()

	name = strings.ToLower(strings.TrimLeft(strings.TrimSpace(name), "/!"))
	if name != "" {
		c, ok := byName[name]
		if !ok || (c.Access == AccessOwnerOnly && !owner) {
			return "❓ <b>Unknown command</b>\nType <code>/help</code> to see the list."
		}
		return commandHelp(*c)
	}

	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	lines := []string{"📚 <b>Commands</b>", ""}
	for _, c := range cmds {
		if c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
			continue
		}
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if c.Access == AccessOwnerOnly {
			line = "• 🔒 <code>/" + html.EscapeString(c.Name) + "</code>"
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Type <code>/help &lt;command&gt;</code> for details.")
	return strings.Join(lines, "\n")
}

func commandHelp(c Command) string {
	lines := []string{"📚 <b>/" + html.EscapeString(c.Name) + "</b>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>")
		for _, l := range strings.Split(u, "\n") {
			lines = append(lines, "<code>"+html.EscapeString(l)+"</code>")
		}
	}
	if len(c.Aliases) > 0 {
		al := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, "/"+html.EscapeString(a))
		}
		lines = append(lines, "", "<b>Aliases</b> "+strings.Join(al, ", "))
	}
	return strings.Join(lines, "\n")
}

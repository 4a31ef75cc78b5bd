package tui

import "strings"

// Command is a slash command typed into the composer, e.g. "/open bob".
type Command struct {
	Name string
	Args string
}

// commands lists what runCommand understands, with a usage line each.
var commands = map[string]string{
	"open":     "/open <username>",
	"delete":   "/delete (your last message in this dialog)",
	"name":     "/name <first> [last]",
	"bio":      "/bio <text>",
	"username": "/username <name>",
	"quit":     "/quit",
}

// ParseCommand splits a composer line into a Command. It reports false for
// ordinary text, including "//" which escapes a message that starts with a
// slash.
func ParseCommand(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return Command{}, false
	}
	name, args, _ := strings.Cut(line[1:], " ")
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

// Arg returns the i-th whitespace-separated argument, or "".
func (c Command) Arg(i int) string {
	f := strings.Fields(c.Args)
	if i < 0 || i >= len(f) {
		return ""
	}
	return f[i]
}

// Usage returns the usage line for a known command.
func (c Command) Usage() (string, bool) {
	u, ok := commands[c.Name]
	return u, ok
}

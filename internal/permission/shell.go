package permission

import (
	"fmt"
	"strings"
)

// readOnlyCommands are exempt from the per-path command boundary check.
var readOnlyCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "grep": true,
	"rg": true, "find": true, "wc": true, "pwd": true, "echo": true,
	"stat": true, "file": true, "which": true, "env": true, "date": true,
	"du": true, "df": true, "ps": true, "whoami": true,
}

// checkShellCommand splits a shell command line into its discrete
// sub-commands and denies any non-read-only sub-command that references a
// path outside the approved root.
func checkShellCommand(root, command string) error {
	for _, sub := range splitCommands(command) {
		tokens := tokenize(sub)
		if len(tokens) == 0 {
			continue
		}
		if readOnlyCommands[tokens[0]] && !strings.ContainsAny(sub, ">") {
			continue
		}
		for _, tok := range tokens[1:] {
			if !looksLikePath(tok) {
				continue
			}
			if err := withinRoot(root, tok); err != nil {
				return fmt.Errorf("command %q would touch a path outside the approved root", tokens[0])
			}
		}
	}
	return nil
}

// splitCommands breaks a command line on ;, &&, || and | while respecting
// single and double quotes.
func splitCommands(command string) []string {
	var (
		parts   []string
		current strings.Builder
		quote   rune
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			parts = append(parts, s)
		}
		current.Reset()
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if quote != 0 {
			current.WriteRune(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			current.WriteRune(c)
		case ';':
			flush()
		case '&', '|':
			if i+1 < len(runes) && runes[i+1] == c {
				i++
			}
			flush()
		default:
			current.WriteRune(c)
		}
	}
	flush()
	return parts
}

// tokenize splits one sub-command into whitespace-separated tokens,
// stripping surrounding quotes and attached redirection operators so a
// ">/etc/passwd" target still reads as a path.
func tokenize(sub string) []string {
	var tokens []string
	for _, field := range strings.Fields(sub) {
		field = strings.Trim(field, `'"`)
		field = strings.TrimLeft(field, "><&12")
		if field != "" {
			tokens = append(tokens, field)
		}
	}
	return tokens
}

// looksLikePath reports whether a token plausibly names a filesystem
// location rather than a flag or free-form argument.
func looksLikePath(tok string) bool {
	if strings.HasPrefix(tok, "-") {
		return false
	}
	return strings.HasPrefix(tok, "/") ||
		strings.HasPrefix(tok, "~") ||
		strings.Contains(tok, "..")
}

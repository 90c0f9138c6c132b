package config

import (
	"fmt"
	"os"
	"strings"
	"unicode"
)

// parseArgv splits a command line using shell-style quoting. Outside single
// quotes, $NAME and ${NAME} expand from the environment; a leading ~ expands
// to the home directory. Quoted empty strings are kept as arguments.
func parseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.HasPrefix(input, "#") {
		return nil, nil
	}

	var (
		argv    []string
		current strings.Builder
		inArg   bool
		quote   rune
	)

	flush := func() {
		if inArg {
			argv = append(argv, current.String())
		}
		current.Reset()
		inArg = false
	}

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && quote != '\'':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
			}
			i++
			current.WriteRune(runes[i])
			inArg = true
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '\'' || r == '"'):
			quote = r
			inArg = true
		case r == '$' && quote != '\'':
			name, width := envReference(runes[i+1:])
			if width == 0 {
				current.WriteRune(r)
			} else {
				current.WriteString(os.Getenv(name))
				i += width
			}
			inArg = true
		case r == '~' && quote == 0 && !inArg && (i+1 == len(runes) || runes[i+1] == '/'):
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("expand ~ in command: %w", err)
			}
			current.WriteString(home)
			inArg = true
		case quote == 0 && unicode.IsSpace(r):
			flush()
		default:
			current.WriteRune(r)
			inArg = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}

	flush()
	return argv, nil
}

// envReference reads NAME or {NAME} following a '$' and reports how many
// runes it consumed. Zero means the '$' is literal.
func envReference(rest []rune) (string, int) {
	if len(rest) > 0 && rest[0] == '{' {
		for j := 1; j < len(rest); j++ {
			if rest[j] == '}' {
				return string(rest[1:j]), j + 1
			}
		}
		return "", 0
	}

	j := 0
	for j < len(rest) && (rest[j] == '_' || unicode.IsLetter(rest[j]) || (j > 0 && unicode.IsDigit(rest[j]))) {
		j++
	}
	return string(rest[:j]), j
}

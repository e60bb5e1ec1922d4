package main

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/term"
)

// readKeyFromTerminal prompts for an API key with echo disabled, falling
// back to a plain stdin read when stdin isn't a terminal (e.g. piped
// input in scripts or tests).
func readKeyFromTerminal() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return trimNewline(line), nil
	}

	fmt.Fprint(os.Stderr, "API key: ")
	bytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Package prompts asks the user for confirmations and credentials.
package prompts

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers from In and writes questions to Out.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// New returns a prompter on the process's stdin and stderr.
func New() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stderr}
}

func (p *Prompter) line() (string, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	s, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// Confirm asks a yes/no question; anything but y or yes is a no.
func (p *Prompter) Confirm(question string) bool {
	fmt.Fprintf(p.Out, "%s [y/N]: ", question)
	answer, err := p.line()
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// ConfirmDeletion asks before deleting a model from a category.
func (p *Prompter) ConfirmDeletion(category, model string) bool {
	fmt.Fprintf(p.Out, "⚠ This will delete model '%s' from %s\n", model, category)
	return p.Confirm("Are you sure?")
}

// Username reads a visible username.
func (p *Prompter) Username() (string, error) {
	fmt.Fprint(p.Out, "Username: ")
	u, err := p.line()
	if err != nil {
		return "", fmt.Errorf("failed to read username: %w", err)
	}
	return strings.TrimSpace(u), nil
}

// Password reads a password without echo when In is a terminal.
func (p *Prompter) Password() (string, error) {
	fmt.Fprint(p.Out, "Password: ")
	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	pw, err := p.line()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return pw, nil
}

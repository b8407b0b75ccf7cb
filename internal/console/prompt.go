package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// ErrNotInteractive is returned when input is needed but stdin is not a
// terminal.
var ErrNotInteractive = errors.New("input required but stdin is not a terminal")

// Prompter asks the operator for values on a terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	// Interactive is detected from the input by NewPrompter.
	Interactive bool
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Prompter{in: bufio.NewReader(in), out: out, Interactive: interactive}
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", errors.Wrap(err, "failed to read input")
	}
	return strings.TrimSpace(line), nil
}

// Prompt asks for one value. An empty answer selects def; with no default
// the question is repeated.
func (p *Prompter) Prompt(label, def string) (string, error) {
	if !p.Interactive {
		return "", ErrNotInteractive
	}
	for {
		if def != "" {
			fmt.Fprintf(p.out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(p.out, "%s: ", label)
		}
		answer, err := p.readLine()
		if err != nil {
			return "", err
		}
		if answer == "" {
			answer = def
		}
		if answer != "" {
			return answer, nil
		}
	}
}

// Ask asks for one value that may be left empty. An empty answer selects
// def.
func (p *Prompter) Ask(label, def string) (string, error) {
	if !p.Interactive {
		return "", ErrNotInteractive
	}
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	answer, err := p.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Choose asks for one of options by number and returns its index.
func (p *Prompter) Choose(label string, options []string) (int, error) {
	if !p.Interactive {
		return 0, ErrNotInteractive
	}
	if len(options) == 0 {
		return 0, errors.New("nothing to choose from")
	}
	fmt.Fprintln(p.out, label)
	for i, o := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, o)
	}
	for {
		fmt.Fprintf(p.out, "Select [1-%d]: ", len(options))
		answer, err := p.readLine()
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintf(p.out, "Invalid choice %q\n", answer)
	}
}

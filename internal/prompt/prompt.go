package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// border is printed above and below every prompt block.
var border = strings.Repeat("-", 56)

// Sentinel errors returned by Prompter. Callers map all of them to
// model.ExitInvalidInput; errors.Is distinguishes them in tests.
var (
	// ErrEmptyInput is returned when a required value is left blank.
	ErrEmptyInput = errors.New("input cannot be empty")

	// ErrInvalidChoice is returned when the answer to a (Y/n) question is
	// neither yes nor no.
	ErrInvalidChoice = errors.New("invalid choice, expected Y or n")

	// ErrNotANumber is returned when a numeric prompt receives text that
	// does not parse as a base-10 integer.
	ErrNotANumber = errors.New("input is not a number")

	// ErrOutOfRange is returned when a number, typed or defaulted, falls
	// outside the inclusive range of the prompt.
	ErrOutOfRange = errors.New("value out of range")

	// ErrNotConfirmed is returned by Confirm for any answer but yes.
	ErrNotConfirmed = errors.New("not confirmed")

	// ErrNoInput is returned when the input stream ends before a line is read.
	ErrNoInput = errors.New("no input available")
)

// Prompter asks the operator for configuration values one line at a time.
// It never retries: the first unusable answer ends the prompt with an error.
type Prompter struct {
	// in is buffered once and shared by all questions, so answers piped
	// in together are consumed one line per question.
	in *bufio.Reader

	// out receives questions, the dashed borders and rejection reasons.
	out io.Writer
}

// New returns a Prompter reading answers from in and writing questions to out.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// String asks for a text value. With allowDefault the operator first
// chooses between defaultValue and typing a new value; without it a value
// must be typed.
func (p *Prompter) String(label string, allowDefault bool, defaultValue string) (string, error) {
	p.open()

	var value string
	if allowDefault {
		// Two-step form: first "use the default?", then the new value.
		fmt.Fprintf(p.out, "Configure %s:\n", label)
		useDefault, err := p.askDefault(defaultValue)
		if err != nil {
			return "", err
		}
		if useDefault {
			value = defaultValue
		} else {
			if value, err = p.askRequired("New value: "); err != nil {
				return "", err
			}
		}
	} else {
		var err error
		if value, err = p.askRequired(fmt.Sprintf("Configure %s: ", label)); err != nil {
			return "", err
		}
	}

	p.close(label, value)
	return value, nil
}

// Number asks for an integer in [min, max]. A default that lies outside
// the range is rejected the same way a typed value would be.
func (p *Prompter) Number(label string, allowDefault bool, defaultValue, min, max int) (int, error) {
	p.open()

	var raw string
	if allowDefault {
		fmt.Fprintf(p.out, "Configure %s:\n", label)
		useDefault, err := p.askDefault(strconv.Itoa(defaultValue))
		if err != nil {
			return 0, err
		}
		if useDefault {
			raw = strconv.Itoa(defaultValue)
		} else {
			if raw, err = p.askRequired(fmt.Sprintf("New value (%d-%d): ", min, max)); err != nil {
				return 0, err
			}
		}
	} else {
		var err error
		if raw, err = p.askRequired(fmt.Sprintf("Configure %s (%d-%d): ", label, min, max)); err != nil {
			return 0, err
		}
	}

	// Atoi accepts a leading sign, so "-5" reaches the range check.
	value, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(ErrNotANumber)
		return 0, fmt.Errorf("%w: %q", ErrNotANumber, raw)
	}
	if value < min || value > max {
		p.fail(ErrOutOfRange)
		return 0, fmt.Errorf("%w: %d not in %d-%d", ErrOutOfRange, value, min, max)
	}

	// Echo the parsed number, so "07" is confirmed as 7.
	p.close(label, strconv.Itoa(value))
	return value, nil
}

// Confirm asks for an explicit yes. An empty answer counts as yes; anything
// other than "", "Y" or "y" returns ErrNotConfirmed. Unlike the other
// prompts the answer is compared as typed, so " y" does not confirm.
func (p *Prompter) Confirm(label string) (bool, error) {
	p.open()

	answer, err := p.readLine(fmt.Sprintf("Please confirm %s (Y) ", label))
	if err != nil {
		return false, err
	}
	if !isYes(answer) {
		p.fail(ErrNotConfirmed)
		return false, ErrNotConfirmed
	}

	p.close(label, "true")
	return true, nil
}

// askDefault asks the "(Y/n)" question and reports whether the default
// was accepted.
func (p *Prompter) askDefault(defaultValue string) (bool, error) {
	answer, err := p.readLine(fmt.Sprintf("Use default value (%s)? (Y/n) ", defaultValue))
	if err != nil {
		return false, err
	}
	answer = trimSpaces(answer)

	// Only the exact letters count; "yes" or "no" are typos.
	switch {
	case isYes(answer):
		return true, nil
	case answer == "N" || answer == "n":
		return false, nil
	default:
		p.fail(ErrInvalidChoice)
		return false, fmt.Errorf("%w: %q", ErrInvalidChoice, answer)
	}
}

// askRequired asks question and returns the answer without surrounding
// spaces. A blank answer is an error.
func (p *Prompter) askRequired(question string) (string, error) {
	answer, err := p.readLine(question)
	if err != nil {
		return "", err
	}
	answer = trimSpaces(answer)
	if answer == "" {
		p.fail(ErrEmptyInput)
		return "", ErrEmptyInput
	}
	return answer, nil
}

// readLine prints question and returns the next input line without its
// line ending. Other whitespace is kept; callers decide what to strip.
// A final line without a newline is still returned; ErrNoInput is only
// reported when nothing was read.
func (p *Prompter) readLine(question string) (string, error) {
	fmt.Fprint(p.out, question)

	// ReadString keeps the delimiter and returns what it has on EOF.
	line, err := p.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		if line == "" {
			fmt.Fprintln(p.out)
			return "", ErrNoInput
		}
	}
	// Drop "\n" and the "\r" a Windows terminal adds before it.
	return strings.TrimRight(line, "\r\n"), nil
}

// trimSpaces removes leading and trailing blanks only. Tabs are part of
// the answer and make it invalid.
func trimSpaces(s string) string {
	return strings.Trim(s, " ")
}

// open starts a prompt block with a blank line and the border.
func (p *Prompter) open() {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, border)
}

// close echoes the accepted value and ends the block.
func (p *Prompter) close(label, value string) {
	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "%s set to: %s\n", label, value)
	fmt.Fprintln(p.out, border)
}

// fail shows the reason a prompt was rejected before the error is
// returned, so the operator sees it next to the question.
func (p *Prompter) fail(err error) {
	fmt.Fprintln(p.out, err.Error())
}

// isYes reports whether answer accepts: empty, "Y" or "y".
func isYes(answer string) bool {
	return answer == "" || answer == "Y" || answer == "y"
}

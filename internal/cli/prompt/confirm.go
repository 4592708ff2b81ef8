// Package prompt wraps interactive terminal confirmation for destructive
// commands.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted reports that the user backed out of a prompt.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user backed out.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) ||
		errors.Is(err, promptui.ErrInterrupt) ||
		errors.Is(err, promptui.ErrEOF) ||
		errors.Is(err, promptui.ErrAbort)
}

// Confirm asks a yes/no question and reports the answer. Empty input
// selects defaultYes. Ctrl+C and Ctrl+D return ErrAborted.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	p := promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, hint),
		IsConfirm: true,
	}

	answer, err := p.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		// IsConfirm maps an explicit "n" to ErrAbort.
		return false, nil
	case err != nil:
		if answer == "" {
			return defaultYes, nil
		}
		return false, err
	}

	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// ConfirmWithForce skips the prompt when force is set, as for --force
// flags.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label, false)
}

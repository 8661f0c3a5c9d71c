package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a secret from an environment variable or by prompting
// the operator. The value is cached after the first successful retrieval so
// repeated calls reuse the same secret.
type Source struct {
	envVar string
	label  string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before interactively
// prompting for label on the terminal.
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "secret"
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label}
}

// Static returns a source that always yields value.
func Static(value string) *Source {
	s := &Source{label: "secret"}
	s.once.Do(func() {
		if strings.TrimSpace(value) == "" {
			s.err = errors.New("secret cannot be empty")
			return
		}
		s.value = strings.TrimSpace(value)
	})
	return s
}

// Get returns the cached secret or resolves it if this is the first call.
// When the environment variable is set its trimmed value is used; otherwise
// the operator is prompted on stderr. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(os.Stderr, "Enter %s: ", s.label)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read %s: %w", s.label, err)
			return
		}

		value := strings.TrimSpace(string(raw))
		if value == "" {
			s.err = fmt.Errorf("%s cannot be empty", s.label)
			return
		}
		s.value = value
	})

	return s.value, s.err
}

package vault

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// DefaultLabel is used when a secret is loaded without an explicit vault id.
const DefaultLabel = "default"

// Secret holds one vault password in memory.
type Secret struct {
	bytes []byte
}

// NewSecret wraps raw password bytes.
func NewSecret(b []byte) *Secret {
	return &Secret{bytes: append([]byte{}, b...)}
}

// Bytes returns the password material.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.bytes
}

// Entry pairs a secret with its vault-id label.
type Entry struct {
	Label  string
	Secret *Secret
}

// Keyring is an ordered collection of labeled secrets. Order matters: on
// decrypt, secrets are tried in load order after any label match.
type Keyring struct {
	entries []Entry
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{}
}

// Add appends a labeled secret. An empty label becomes DefaultLabel.
func (k *Keyring) Add(label string, secret *Secret) error {
	if secret == nil {
		return fmt.Errorf("vault: secret is required")
	}
	if label == "" {
		label = DefaultLabel
	}
	k.entries = append(k.entries, Entry{Label: label, Secret: secret})
	return nil
}

// Len reports how many secrets are loaded.
func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.entries)
}

// Labels returns the labels in load order.
func (k *Keyring) Labels() []string {
	labels := make([]string, 0, k.Len())
	for _, e := range k.entries {
		labels = append(labels, e.Label)
	}
	return labels
}

// Lookup returns the first secret carrying the label.
func (k *Keyring) Lookup(label string) (*Secret, bool) {
	for _, e := range k.entries {
		if e.Label == label {
			return e.Secret, true
		}
	}
	return nil, false
}

// Sole returns the only loaded entry, or an error when the choice is
// ambiguous. Encrypt uses this when no --encrypt-vault-id was given.
func (k *Keyring) Sole() (Entry, error) {
	switch k.Len() {
	case 0:
		return Entry{}, fmt.Errorf("vault: no secrets loaded")
	case 1:
		return k.entries[0], nil
	default:
		return Entry{}, fmt.Errorf("vault: %d vault ids loaded (%s); select one with --encrypt-vault-id",
			k.Len(), strings.Join(k.Labels(), ", "))
	}
}

// ordered returns entries with label matches first, preserving relative order.
func (k *Keyring) ordered(label string) []Entry {
	if label == "" {
		return k.entries
	}
	matched := make([]Entry, 0, len(k.entries))
	rest := make([]Entry, 0, len(k.entries))
	for _, e := range k.entries {
		if e.Label == label {
			matched = append(matched, e)
		} else {
			rest = append(rest, e)
		}
	}
	return append(matched, rest...)
}

// ParseVaultID splits a --vault-id argument of the form [label@]source.
// A bare value is a source with the default label.
func ParseVaultID(arg string) (label, source string) {
	if idx := strings.Index(arg, "@"); idx >= 0 {
		return arg[:idx], arg[idx+1:]
	}
	return DefaultLabel, arg
}

// PromptFunc reads a password interactively. Swappable in tests.
type PromptFunc func(prompt string) ([]byte, error)

// TerminalPrompt reads a password from the controlling terminal without echo.
func TerminalPrompt(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		return term.ReadPassword(fd)
	}
	// Piped stdin still works: read one line.
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("vault: read password: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// LoadSecret resolves a vault-id source into a secret. "prompt" asks
// interactively; an executable file is run and its stdout taken; any other
// file is read as a password file.
func LoadSecret(source string, prompt PromptFunc) (*Secret, error) {
	switch source {
	case "prompt", "prompt_ask_vault_pass":
		if prompt == nil {
			prompt = TerminalPrompt
		}
		password, err := prompt("Vault password: ")
		if err != nil {
			return nil, err
		}
		return NewSecret(password), nil
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("vault: password source %s: %w", source, err)
	}
	if info.Mode()&0o111 != 0 && !info.IsDir() {
		return scriptSecret(source)
	}
	return fileSecret(source)
}

func fileSecret(path string) (*Secret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: read password file %s: %w", path, err)
	}
	password := bytes.TrimRight(data, "\r\n")
	if len(password) == 0 {
		return nil, fmt.Errorf("vault: empty password in %s", path)
	}
	return NewSecret(password), nil
}

func scriptSecret(path string) (*Secret, error) {
	cmd := exec.Command(path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("vault: password script %s returned non-zero (%d): %s",
				path, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("vault: run password script %s: %w", path, err)
	}
	password := bytes.TrimRight(stdout.Bytes(), "\r\n")
	if len(password) == 0 {
		return nil, fmt.Errorf("vault: password script %s produced no output", path)
	}
	return NewSecret(password), nil
}

// LoadKeyring builds a keyring from --vault-id style arguments.
func LoadKeyring(args []string, prompt PromptFunc) (*Keyring, error) {
	keyring := NewKeyring()
	for _, arg := range args {
		label, source := ParseVaultID(arg)
		secret, err := LoadSecret(source, prompt)
		if err != nil {
			return nil, err
		}
		if err := keyring.Add(label, secret); err != nil {
			return nil, err
		}
	}
	return keyring, nil
}

package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Editor performs the whole-file vault operations behind the CLI verbs.
type Editor struct {
	keyring *Keyring
	// editorCmd resolves the interactive editor; tests override it.
	editorCmd func() []string
}

// NewEditor wires file operations to a keyring.
func NewEditor(keyring *Keyring) *Editor {
	return &Editor{
		keyring:   keyring,
		editorCmd: defaultEditorCmd,
	}
}

// WithEditorCommand overrides the editor invocation (tests, odd setups).
func (e *Editor) WithEditorCommand(cmd func() []string) *Editor {
	if cmd != nil {
		e.editorCmd = cmd
	}
	return e
}

// encryptEntry picks the secret for write operations.
func (e *Editor) encryptEntry(encryptVaultID string) (Entry, error) {
	if encryptVaultID != "" {
		secret, ok := e.keyring.Lookup(encryptVaultID)
		if !ok {
			return Entry{}, fmt.Errorf("vault: no secret loaded for vault id %q (have: %s)",
				encryptVaultID, strings.Join(e.keyring.Labels(), ", "))
		}
		return Entry{Label: encryptVaultID, Secret: secret}, nil
	}
	return e.keyring.Sole()
}

// labelFor hides the default label from 1.1-style envelopes.
func labelFor(entry Entry) string {
	if entry.Label == DefaultLabel {
		return ""
	}
	return entry.Label
}

// Create opens the editor on an empty buffer and writes the encrypted result
// to path. Refuses to clobber an existing file.
func (e *Editor) Create(path, encryptVaultID string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("vault: %s exists, use edit instead", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("vault: stat %s: %w", path, err)
	}
	entry, err := e.encryptEntry(encryptVaultID)
	if err != nil {
		return err
	}
	plaintext, err := e.runEditor(nil, filepath.Ext(path))
	if err != nil {
		return err
	}
	sealed, err := Encrypt(plaintext, entry.Secret, labelFor(entry))
	if err != nil {
		return err
	}
	return writeAtomic(path, sealed, 0o600)
}

// EncryptFile seals an existing plaintext file in place.
func (e *Editor) EncryptFile(path, encryptVaultID string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("vault: read %s: %w", path, err)
	}
	if IsEncrypted(data) {
		return fmt.Errorf("vault: %s is already encrypted", path)
	}
	entry, err := e.encryptEntry(encryptVaultID)
	if err != nil {
		return err
	}
	sealed, err := Encrypt(data, entry.Secret, labelFor(entry))
	if err != nil {
		return err
	}
	return writeAtomic(path, sealed, 0o600)
}

// DecryptFile opens a vault file and writes the plaintext to output
// ("-" or "" means the input path itself).
func (e *Editor) DecryptFile(path, output string) error {
	plaintext, _, err := e.open(path)
	if err != nil {
		return err
	}
	if output == "" {
		output = path
	}
	if output == "-" {
		_, err := os.Stdout.Write(plaintext)
		return err
	}
	return writeAtomic(output, plaintext, 0o600)
}

// View returns the decrypted contents for display.
func (e *Editor) View(path string) ([]byte, error) {
	plaintext, _, err := e.open(path)
	return plaintext, err
}

// Edit decrypts, opens the editor, and re-encrypts only when the buffer
// changed, preserving the secret and label that originally sealed the file.
func (e *Editor) Edit(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("vault: read %s: %w", path, err)
	}
	env, err := Parse(data)
	if err != nil {
		return err
	}
	plaintext, secret, err := Decrypt(data, e.keyring)
	if err != nil {
		return err
	}
	edited, err := e.runEditor(plaintext, filepath.Ext(path))
	if err != nil {
		return err
	}
	if bytes.Equal(edited, plaintext) {
		return nil
	}
	sealed, err := Encrypt(edited, secret, env.Label)
	if err != nil {
		return err
	}
	return writeAtomic(path, sealed, 0o600)
}

// Rekey re-encrypts path with a new keyring (and optional new vault id).
func (e *Editor) Rekey(path string, newKeyring *Keyring, encryptVaultID string) error {
	plaintext, _, err := e.open(path)
	if err != nil {
		return err
	}
	rekeyed := NewEditor(newKeyring)
	entry, err := rekeyed.encryptEntry(encryptVaultID)
	if err != nil {
		return err
	}
	sealed, err := Encrypt(plaintext, entry.Secret, labelFor(entry))
	if err != nil {
		return err
	}
	return writeAtomic(path, sealed, 0o600)
}

// EncryptString seals a value and renders it as a YAML `!vault` block
// suitable for pasting into a vars file.
func (e *Editor) EncryptString(name, value, encryptVaultID string) (string, error) {
	entry, err := e.encryptEntry(encryptVaultID)
	if err != nil {
		return "", err
	}
	sealed, err := Encrypt([]byte(value), entry.Secret, labelFor(entry))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "%s: ", name)
	}
	b.WriteString("!vault |\n")
	for _, line := range strings.Split(strings.TrimRight(string(sealed), "\n"), "\n") {
		b.WriteString("          ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (e *Editor) open(path string) ([]byte, *Secret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: read %s: %w", path, err)
	}
	plaintext, secret, err := Decrypt(data, e.keyring)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: %s: %w", path, err)
	}
	return plaintext, secret, nil
}

// runEditor writes initial into a private tempfile, launches the editor on
// it, and reads the result back.
func (e *Editor) runEditor(initial []byte, ext string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "converge-vault-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("vault: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("vault: chmod temp file: %w", err)
	}
	if len(initial) > 0 {
		if _, err := tmp.Write(initial); err != nil {
			tmp.Close()
			return nil, fmt.Errorf("vault: seed temp file: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("vault: close temp file: %w", err)
	}

	argv := append([]string{}, e.editorCmd()...)
	argv = append(argv, tmpPath)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("vault: editor %s failed: %w", argv[0], err)
	}
	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("vault: read edited file: %w", err)
	}
	return edited, nil
}

func defaultEditorCmd() []string {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return strings.Fields(editor)
	}
	return []string{"vi"}
}

// writeAtomic replaces path via a rename from a sibling tempfile.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".converge-vault-*")
	if err != nil {
		return fmt.Errorf("vault: create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("vault: chmod %s: %w", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("vault: write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("vault: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("vault: replace %s: %w", path, err)
	}
	return nil
}

package vault

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path string, data []byte, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, data, mode); err != nil {
		t.Fatal(err)
	}
}

func TestEncryptDecryptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.yml")
	writeFile(t, path, []byte("api_key: sekrit\n"), 0o644)

	ed := NewEditor(keyringWith(t, "default", "pw"))
	if err := ed.EncryptFile(path, ""); err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !IsEncrypted(data) {
		t.Fatal("file should be encrypted in place")
	}
	if err := ed.EncryptFile(path, ""); err == nil {
		t.Fatal("double encrypt should fail")
	}

	out := filepath.Join(dir, "plain.yml")
	if err := ed.DecryptFile(path, out); err != nil {
		t.Fatalf("DecryptFile: %v", err)
	}
	plain, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != "api_key: sekrit\n" {
		t.Fatalf("decrypted content mismatch: %q", plain)
	}
}

func TestViewRequiresMatchingSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v.yml")
	writeFile(t, path, []byte("x: 1\n"), 0o644)
	if err := NewEditor(keyringWith(t, "default", "pw")).EncryptFile(path, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEditor(keyringWith(t, "default", "nope")).View(path); err == nil {
		t.Fatal("view with wrong password should fail")
	}
	got, err := NewEditor(keyringWith(t, "default", "pw")).View(path)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if string(got) != "x: 1\n" {
		t.Fatalf("View = %q", got)
	}
}

func TestEditPreservesLabelAndSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v.yml")
	writeFile(t, path, []byte("before\n"), 0o644)
	k := keyringWith(t, "dev", "pw")
	ed := NewEditor(k)
	if err := ed.EncryptFile(path, "dev"); err != nil {
		t.Fatal(err)
	}
	sealedBefore, _ := os.ReadFile(path)

	// Editor that leaves the buffer untouched: file must not be rewritten.
	ed.WithEditorCommand(func() []string { return []string{"true"} })
	if err := ed.Edit(path); err != nil {
		t.Fatalf("Edit (no change): %v", err)
	}
	sealedAfter, _ := os.ReadFile(path)
	if string(sealedBefore) != string(sealedAfter) {
		t.Fatal("unchanged edit should not rewrite the file")
	}

	// Editor that appends a line: file is re-encrypted with the same label.
	script := filepath.Join(dir, "append.sh")
	writeFile(t, script, []byte("#!/bin/sh\necho after >> \"$1\"\n"), 0o755)
	ed.WithEditorCommand(func() []string { return []string{script} })
	if err := ed.Edit(path); err != nil {
		t.Fatalf("Edit (change): %v", err)
	}
	data, _ := os.ReadFile(path)
	env, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if env.Label != "dev" {
		t.Fatalf("label after edit = %q, want dev", env.Label)
	}
	plain, _, err := Decrypt(data, k)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != "before\nafter\n" {
		t.Fatalf("edited content = %q", plain)
	}
}

func TestRekey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v.yml")
	writeFile(t, path, []byte("payload\n"), 0o644)
	oldKeyring := keyringWith(t, "default", "oldpw")
	if err := NewEditor(oldKeyring).EncryptFile(path, ""); err != nil {
		t.Fatal(err)
	}
	newKeyring := keyringWith(t, "prod", "newpw")
	if err := NewEditor(oldKeyring).Rekey(path, newKeyring, "prod"); err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	data, _ := os.ReadFile(path)
	if _, _, err := Decrypt(data, oldKeyring); err == nil {
		t.Fatal("old keyring should no longer open the file")
	}
	plain, _, err := Decrypt(data, newKeyring)
	if err != nil {
		t.Fatalf("decrypt with new keyring: %v", err)
	}
	if string(plain) != "payload\n" {
		t.Fatalf("rekeyed content = %q", plain)
	}
}

func TestEncryptString(t *testing.T) {
	ed := NewEditor(keyringWith(t, "default", "pw"))
	block, err := ed.EncryptString("db_password", "s3cret", "")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if !strings.HasPrefix(block, "db_password: !vault |\n") {
		t.Fatalf("unexpected block start: %q", block)
	}
	if !strings.Contains(block, HeaderMagic) {
		t.Fatal("block should embed the vault header")
	}
	for _, line := range strings.Split(strings.TrimRight(block, "\n"), "\n")[1:] {
		if !strings.HasPrefix(line, "          ") {
			t.Fatalf("body line not indented: %q", line)
		}
	}
}

func TestCreateRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v.yml")
	writeFile(t, path, []byte("x"), 0o644)
	ed := NewEditor(keyringWith(t, "default", "pw"))
	if err := ed.Create(path, ""); err == nil {
		t.Fatal("create over existing file should fail")
	}
}

func TestScriptAndFileSecretSources(t *testing.T) {
	dir := t.TempDir()

	passFile := filepath.Join(dir, "pass.txt")
	writeFile(t, passFile, []byte("filepass\n"), 0o644)
	secret, err := LoadSecret(passFile, nil)
	if err != nil {
		t.Fatalf("file secret: %v", err)
	}
	if string(secret.Bytes()) != "filepass" {
		t.Fatalf("file secret = %q, trailing newline should be stripped", secret.Bytes())
	}

	script := filepath.Join(dir, "pass.sh")
	writeFile(t, script, []byte("#!/bin/sh\necho scriptpass\n"), 0o755)
	secret, err = LoadSecret(script, nil)
	if err != nil {
		t.Fatalf("script secret: %v", err)
	}
	if string(secret.Bytes()) != "scriptpass" {
		t.Fatalf("script secret = %q", secret.Bytes())
	}

	failing := filepath.Join(dir, "fail.sh")
	writeFile(t, failing, []byte("#!/bin/sh\necho doom >&2\nexit 37\n"), 0o755)
	if _, err := LoadSecret(failing, nil); err == nil || !strings.Contains(err.Error(), "37") {
		t.Fatalf("failing script: want exit-code error, got %v", err)
	}
}

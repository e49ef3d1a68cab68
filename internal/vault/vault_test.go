package vault

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func keyringWith(t *testing.T, pairs ...string) *Keyring {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatal("keyringWith wants label/password pairs")
	}
	k := NewKeyring()
	for i := 0; i < len(pairs); i += 2 {
		if err := k.Add(pairs[i], NewSecret([]byte(pairs[i+1]))); err != nil {
			t.Fatal(err)
		}
	}
	return k
}

func TestRoundTrip(t *testing.T) {
	plaintext := []byte("some secret text\nwith a second line\n")
	secret := NewSecret([]byte("hunter2"))

	sealed, err := Encrypt(plaintext, secret, "")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEncrypted(sealed) {
		t.Fatal("IsEncrypted should report true for sealed data")
	}
	if !bytes.HasPrefix(sealed, []byte("$CONVERGE_VAULT;1.1;AES256\n")) {
		t.Fatalf("unexpected header: %q", bytes.SplitN(sealed, []byte("\n"), 2)[0])
	}

	opened, used, err := Decrypt(sealed, keyringWith(t, "default", "hunter2"))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: %q", opened)
	}
	if used == nil {
		t.Fatal("Decrypt should report the secret used")
	}
}

func TestLabeledEnvelopeIsVersion12(t *testing.T) {
	sealed, err := Encrypt([]byte("x"), NewSecret([]byte("pw")), "dev")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(sealed, []byte("$CONVERGE_VAULT;1.2;AES256;dev\n")) {
		t.Fatalf("unexpected header: %q", bytes.SplitN(sealed, []byte("\n"), 2)[0])
	}
	env, err := Parse(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if env.Label != "dev" || env.Version != Version12 {
		t.Fatalf("Parse: label=%q version=%q", env.Label, env.Version)
	}
}

func TestDecryptTriesLabelMatchFirst(t *testing.T) {
	sealed, err := Encrypt([]byte("payload"), NewSecret([]byte("devpass")), "dev")
	if err != nil {
		t.Fatal(err)
	}
	// The prod secret comes first in load order but must not win.
	k := keyringWith(t, "prod", "prodpass", "dev", "devpass")
	opened, _, err := Decrypt(sealed, k)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(opened) != "payload" {
		t.Fatalf("got %q", opened)
	}
}

func TestDecryptFallsBackAcrossSecrets(t *testing.T) {
	sealed, err := Encrypt([]byte("payload"), NewSecret([]byte("second")), "")
	if err != nil {
		t.Fatal(err)
	}
	k := keyringWith(t, "a", "first", "b", "second")
	if _, _, err := Decrypt(sealed, k); err != nil {
		t.Fatalf("Decrypt with fallback: %v", err)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	sealed, err := Encrypt([]byte("payload"), NewSecret([]byte("right")), "")
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = Decrypt(sealed, keyringWith(t, "default", "wrong"))
	if !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("want ErrDecryptFailed, got %v", err)
	}
}

func TestTamperedPayloadFailsHMAC(t *testing.T) {
	sealed, err := Encrypt([]byte("payload"), NewSecret([]byte("pw")), "")
	if err != nil {
		t.Fatal(err)
	}
	// Flip a hex digit somewhere in the body.
	idx := bytes.IndexByte(sealed, '\n') + 10
	if sealed[idx] == '0' {
		sealed[idx] = '1'
	} else {
		sealed[idx] = '0'
	}
	_, _, err = Decrypt(sealed, keyringWith(t, "default", "pw"))
	if err == nil {
		t.Fatal("expected tampered payload to fail")
	}
}

func TestParseRejectsNonVault(t *testing.T) {
	if _, err := Parse([]byte("just some yaml: here\n")); !errors.Is(err, ErrNotVault) {
		t.Fatalf("want ErrNotVault, got %v", err)
	}
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	data := []byte("$CONVERGE_VAULT;9.9;AES256\n6162\n")
	if _, err := Parse(data); !errors.Is(err, ErrFormat) {
		t.Fatalf("want ErrFormat, got %v", err)
	}
}

func TestParseRejectsUnsupportedCipher(t *testing.T) {
	data := []byte("$CONVERGE_VAULT;1.1;ROT13\n6162\n")
	if _, err := Parse(data); !errors.Is(err, ErrFormat) {
		t.Fatalf("want ErrFormat, got %v", err)
	}
}

func TestParseRejectsOddLengthPayload(t *testing.T) {
	data := []byte("$CONVERGE_VAULT;1.1;AES256\n616\n")
	if _, err := Parse(data); !errors.Is(err, ErrFormat) {
		t.Fatalf("want ErrFormat, got %v", err)
	}
}

func TestParseRejectsNonHexPayload(t *testing.T) {
	data := []byte("$CONVERGE_VAULT;1.1;AES256\n6z6231\n")
	if _, err := Parse(data); !errors.Is(err, ErrFormat) {
		t.Fatalf("want ErrFormat, got %v", err)
	}
}

func TestFormatWrapsAt80Columns(t *testing.T) {
	sealed, err := Encrypt(bytes.Repeat([]byte("x"), 500), NewSecret([]byte("pw")), "")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(sealed), "\n"), "\n")
	for i, line := range lines[1 : len(lines)-1] {
		if len(line) != 80 {
			t.Fatalf("body line %d has width %d, want 80", i, len(line))
		}
	}
}

func TestParseVaultID(t *testing.T) {
	cases := []struct {
		in, label, source string
	}{
		{"dev@secrets.txt", "dev", "secrets.txt"},
		{"secrets.txt", DefaultLabel, "secrets.txt"},
		{"prod@prompt", "prod", "prompt"},
		{"@file", "", "file"},
	}
	for _, tc := range cases {
		label, source := ParseVaultID(tc.in)
		if label != tc.label || source != tc.source {
			t.Errorf("ParseVaultID(%q) = (%q, %q), want (%q, %q)", tc.in, label, source, tc.label, tc.source)
		}
	}
}

func TestKeyringSole(t *testing.T) {
	if _, err := NewKeyring().Sole(); err == nil {
		t.Fatal("empty keyring should error")
	}
	one := keyringWith(t, "dev", "pw")
	entry, err := one.Sole()
	if err != nil || entry.Label != "dev" {
		t.Fatalf("Sole = %v, %v", entry, err)
	}
	two := keyringWith(t, "dev", "pw", "prod", "pw2")
	if _, err := two.Sole(); err == nil {
		t.Fatal("ambiguous keyring should error")
	}
}

func TestPadUnpadPKCS7(t *testing.T) {
	for size := 0; size < 40; size++ {
		data := bytes.Repeat([]byte{7}, size)
		padded := padPKCS7(data, 16)
		if len(padded)%16 != 0 {
			t.Fatalf("size %d: padded length %d", size, len(padded))
		}
		out, err := unpadPKCS7(padded, 16)
		if err != nil {
			t.Fatalf("size %d: unpad: %v", size, err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("size %d: round trip mismatch", size)
		}
	}
	if _, err := unpadPKCS7([]byte{1, 2, 3}, 16); err == nil {
		t.Fatal("unaligned input should fail")
	}
}

// Package vault implements the secrets envelope used to encrypt variable
// files and inline strings. The on-disk format is a one-line header followed
// by a hex-encoded payload wrapped at 80 columns:
//
//	$CONVERGE_VAULT;1.1;AES256
//	66386439653236336462626566653063336164663966303231363934653561363964363833...
//
// Format 1.2 adds a vault-id label as a fourth header field so a file can be
// matched to the secret that encrypted it without trial decryption.
package vault

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// HeaderMagic is the first header field of every vault payload.
	HeaderMagic = "$CONVERGE_VAULT"

	// Version11 is the unlabeled envelope format.
	Version11 = "1.1"
	// Version12 is the labeled envelope format.
	Version12 = "1.2"

	// CipherAES256 is the only cipher this implementation writes or reads.
	CipherAES256 = "AES256"

	wrapColumn = 80
)

var (
	// ErrNotVault indicates the input does not carry a vault header.
	ErrNotVault = errors.New("vault: input is not vault encrypted data")
	// ErrFormat indicates a structurally broken envelope.
	ErrFormat = errors.New("vault: format error")
	// ErrDecryptFailed indicates no loaded secret could authenticate the payload.
	ErrDecryptFailed = errors.New("vault: decryption failed")
)

// Envelope is a parsed vault payload: header metadata plus the raw
// ciphertext blob handed to the cipher layer.
type Envelope struct {
	Version string
	Cipher  string
	Label   string
	// Body is the unhexlified payload: hex(salt) "\n" hmac "\n" hex(ciphertext).
	Body []byte
}

// IsEncrypted reports whether data begins with a vault header.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(HeaderMagic+";"))
}

// Parse splits a vault document into its envelope parts. The payload hex is
// decoded once here; cipher-level fields stay encoded until Decrypt.
func Parse(data []byte) (Envelope, error) {
	text := strings.TrimSpace(string(data))
	if !strings.HasPrefix(text, HeaderMagic+";") {
		return Envelope{}, ErrNotVault
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) < 2 {
		return Envelope{}, fmt.Errorf("%w: missing payload after header", ErrFormat)
	}
	header := strings.Split(strings.TrimSpace(lines[0]), ";")
	if len(header) != 3 && len(header) != 4 {
		return Envelope{}, fmt.Errorf("%w: header has %d fields", ErrFormat, len(header))
	}
	env := Envelope{
		Version: strings.TrimSpace(header[1]),
		Cipher:  strings.TrimSpace(header[2]),
	}
	switch env.Version {
	case Version11:
	case Version12:
		if len(header) == 4 {
			env.Label = strings.TrimSpace(header[3])
		}
	default:
		return Envelope{}, fmt.Errorf("%w: unsupported envelope version %q", ErrFormat, env.Version)
	}
	if env.Cipher != CipherAES256 {
		return Envelope{}, fmt.Errorf("%w: unsupported cipher %q", ErrFormat, env.Cipher)
	}
	payload := strings.Map(dropSpace, lines[1])
	body, err := unhexlify([]byte(payload))
	if err != nil {
		return Envelope{}, err
	}
	env.Body = body
	return env, nil
}

// Format renders an envelope back into the wrapped on-disk form.
func Format(env Envelope) []byte {
	var header string
	if env.Label != "" {
		header = strings.Join([]string{HeaderMagic, Version12, CipherAES256, env.Label}, ";")
	} else {
		header = strings.Join([]string{HeaderMagic, Version11, CipherAES256}, ";")
	}
	hexed := hexlify(env.Body)
	var buf bytes.Buffer
	buf.WriteString(header)
	buf.WriteByte('\n')
	for len(hexed) > 0 {
		n := wrapColumn
		if n > len(hexed) {
			n = len(hexed)
		}
		buf.Write(hexed[:n])
		buf.WriteByte('\n')
		hexed = hexed[n:]
	}
	return buf.Bytes()
}

// Encrypt seals plaintext with the secret and returns the full vault
// document. A non-empty label produces a 1.2 envelope.
func Encrypt(plaintext []byte, secret *Secret, label string) ([]byte, error) {
	if secret == nil {
		return nil, fmt.Errorf("vault: a secret is required to encrypt")
	}
	body, err := aes256Encrypt(plaintext, secret.Bytes())
	if err != nil {
		return nil, err
	}
	return Format(Envelope{Label: label, Body: body}), nil
}

// Decrypt opens a vault document using the keyring. Secrets whose label
// matches a 1.2 envelope are tried first, then the rest in load order.
func Decrypt(data []byte, keyring *Keyring) ([]byte, *Secret, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if keyring == nil || keyring.Len() == 0 {
		return nil, nil, fmt.Errorf("vault: no secrets loaded to attempt decryption")
	}
	tried := 0
	for _, entry := range keyring.ordered(env.Label) {
		tried++
		plaintext, err := aes256Decrypt(env.Body, entry.Secret.Bytes())
		if err == nil {
			return plaintext, entry.Secret, nil
		}
		if !errors.Is(err, ErrDecryptFailed) {
			return nil, nil, err
		}
	}
	return nil, nil, fmt.Errorf("%w: no secret matched after %d attempt(s)", ErrDecryptFailed, tried)
}

func hexlify(data []byte) []byte {
	out := make([]byte, hex.EncodedLen(len(data)))
	hex.Encode(out, data)
	return out
}

func unhexlify(data []byte) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: unhexlify error: odd-length payload", ErrFormat)
	}
	out := make([]byte, hex.DecodedLen(len(data)))
	if _, err := hex.Decode(out, data); err != nil {
		return nil, fmt.Errorf("%w: unhexlify error: %v", ErrFormat, err)
	}
	return out, nil
}

func dropSpace(r rune) rune {
	switch r {
	case ' ', '\t', '\r', '\n':
		return -1
	}
	return r
}

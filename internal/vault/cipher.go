package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters. 80 bytes of PBKDF2 output split into the AES
// key, the HMAC key, and the initial CTR counter block.
const (
	saltLen       = 32
	keyLen        = 32
	ivLen         = aes.BlockSize
	kdfIterations = 10000
)

type derivedKeys struct {
	aesKey  []byte
	hmacKey []byte
	iv      []byte
}

func deriveKeys(password, salt []byte) derivedKeys {
	material := pbkdf2.Key(password, salt, kdfIterations, 2*keyLen+ivLen, sha256.New)
	return derivedKeys{
		aesKey:  material[:keyLen],
		hmacKey: material[keyLen : 2*keyLen],
		iv:      material[2*keyLen:],
	}
}

// aes256Encrypt produces the envelope body: hex(salt) "\n" hexHMAC "\n"
// hex(ciphertext). The plaintext is block-padded before CTR mode for
// compatibility with the historical format; CTR itself needs no padding.
func aes256Encrypt(plaintext, password []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	return aes256EncryptWithSalt(plaintext, password, salt)
}

func aes256EncryptWithSalt(plaintext, password, salt []byte) ([]byte, error) {
	keys := deriveKeys(password, salt)
	block, err := aes.NewCipher(keys.aesKey)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	padded := padPKCS7(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCTR(block, keys.iv).XORKeyStream(ciphertext, padded)

	mac := hmac.New(sha256.New, keys.hmacKey)
	mac.Write(ciphertext)

	var body bytes.Buffer
	body.Write(hexlify(salt))
	body.WriteByte('\n')
	fmt.Fprintf(&body, "%x", mac.Sum(nil))
	body.WriteByte('\n')
	body.Write(hexlify(ciphertext))
	return body.Bytes(), nil
}

// aes256Decrypt reverses aes256Encrypt. An HMAC mismatch returns
// ErrDecryptFailed so callers can try the next secret; structural problems
// return ErrFormat and abort the attempt loop.
func aes256Decrypt(body, password []byte) ([]byte, error) {
	parts := bytes.SplitN(body, []byte("\n"), 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: ciphertext blob has %d fields, want 3", ErrFormat, len(parts))
	}
	salt, err := unhexlify(parts[0])
	if err != nil {
		return nil, err
	}
	storedMAC, err := unhexlify(parts[1])
	if err != nil {
		return nil, err
	}
	ciphertext, err := unhexlify(parts[2])
	if err != nil {
		return nil, err
	}

	keys := deriveKeys(password, salt)
	mac := hmac.New(sha256.New, keys.hmacKey)
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), storedMAC) {
		return nil, ErrDecryptFailed
	}

	block, err := aes.NewCipher(keys.aesKey)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, keys.iv).XORKeyStream(plaintext, ciphertext)
	return unpadPKCS7(plaintext, aes.BlockSize)
}

func padPKCS7(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padded length %d", ErrFormat, len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, fmt.Errorf("%w: bad padding byte %d", ErrFormat, padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("%w: inconsistent padding", ErrFormat)
		}
	}
	return data[:len(data)-padLen], nil
}

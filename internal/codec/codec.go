// Package codec implements the enterprise-IM callback envelope crypto:
// signature verification, AES-CBC payload encryption, and encrypted
// media download.
package codec

import (
	"bytes"
	"context"
	"errors"
)

// Envelope is an encrypted outbound payload together with the signature
// material the platform expects alongside it.
type Envelope struct {
	Encrypt   string `json:"encrypt"`
	Signature string `json:"msgsignature,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
}

// Codec verifies and translates platform callback payloads.
type Codec interface {
	// VerifyURL checks the GET handshake signature and returns the
	// decrypted echo string to send back.
	VerifyURL(signature, timestamp, nonce, echo string) (string, error)
	// Decrypt verifies the envelope signature and returns the plaintext.
	Decrypt(encrypted, signature, timestamp, nonce string) ([]byte, error)
	// Encrypt wraps plaintext into a signed envelope.
	Encrypt(plain []byte, nonce, timestamp string) (Envelope, error)
	// DownloadMedia fetches and decrypts platform-hosted media, returning
	// the bytes and a sniffed MIME type.
	DownloadMedia(ctx context.Context, url, key string) ([]byte, string, error)
}

var (
	// ErrSignatureInvalid means the request signature did not match.
	ErrSignatureInvalid = errors.New("codec: signature invalid")
	// ErrDecryptFailed means the ciphertext could not be decrypted.
	ErrDecryptFailed = errors.New("codec: decrypt failed")
	// ErrMalformed means the payload structure is not usable.
	ErrMalformed = errors.New("codec: malformed payload")
)

var magicTable = []struct {
	prefix []byte
	mime   string
}{
	{[]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
	{[]byte("GIF87a"), "image/gif"},
	{[]byte("GIF89a"), "image/gif"},
	{[]byte{0x42, 0x4D}, "image/bmp"},
	{[]byte{0x49, 0x49, 0x2A, 0x00}, "image/tiff"},
	{[]byte{0x4D, 0x4D, 0x00, 0x2A}, "image/tiff"},
}

// SniffMIME resolves a MIME type from the payload's magic number,
// falling back to application/octet-stream.
func SniffMIME(data []byte) string {
	for _, entry := range magicTable {
		if bytes.HasPrefix(data, entry.prefix) {
			return entry.mime
		}
	}
	return "application/octet-stream"
}

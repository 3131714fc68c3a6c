package codec

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// aesBlockSize is the PKCS#7 block size the platform pads to. It is the
// AES key length, not the cipher block size.
const aesBlockSize = 32

const randomPrefixLen = 16

// AESCodec implements Codec with the enterprise-IM callback scheme:
// SHA-1 sorted-parameter signatures and AES-256-CBC payload encryption
// keyed by a 43-character base64 EncodingAESKey.
type AESCodec struct {
	token      string
	key        []byte
	receiverID string
	httpClient *http.Client
}

// NewAESCodec builds a codec from the callback token, EncodingAESKey,
// and receiver id configured on the platform console.
func NewAESCodec(token, encodingAESKey, receiverID string) (*AESCodec, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodingAESKey) + "=")
	if err != nil {
		return nil, fmt.Errorf("decode encoding aes key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encoding aes key must decode to 32 bytes, got %d", len(key))
	}
	return &AESCodec{
		token:      strings.TrimSpace(token),
		key:        key,
		receiverID: strings.TrimSpace(receiverID),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Signature computes the SHA-1 signature over the sorted token,
// timestamp, nonce, and ciphertext.
func (c *AESCodec) Signature(timestamp, nonce, encrypted string) string {
	parts := []string{c.token, timestamp, nonce, encrypted}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return fmt.Sprintf("%x", sum)
}

func (c *AESCodec) verify(signature, timestamp, nonce, encrypted string) error {
	expected := c.Signature(timestamp, nonce, encrypted)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyURL checks the GET handshake signature and returns the decrypted
// echo string.
func (c *AESCodec) VerifyURL(signature, timestamp, nonce, echo string) (string, error) {
	if err := c.verify(signature, timestamp, nonce, echo); err != nil {
		return "", err
	}
	plain, err := c.decryptBase64(echo)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Decrypt verifies the envelope signature and returns the plaintext body.
func (c *AESCodec) Decrypt(encrypted, signature, timestamp, nonce string) ([]byte, error) {
	if err := c.verify(signature, timestamp, nonce, encrypted); err != nil {
		return nil, err
	}
	return c.decryptBase64(encrypted)
}

func (c *AESCodec) decryptBase64(encrypted string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrMalformed, len(ciphertext))
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.key[:aes.BlockSize]).CryptBlocks(plain, ciphertext)
	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return nil, err
	}
	if len(plain) < randomPrefixLen+4 {
		return nil, fmt.Errorf("%w: plaintext too short", ErrDecryptFailed)
	}
	msgLen := binary.BigEndian.Uint32(plain[randomPrefixLen : randomPrefixLen+4])
	rest := plain[randomPrefixLen+4:]
	if int(msgLen) > len(rest) {
		return nil, fmt.Errorf("%w: declared length %d exceeds payload", ErrDecryptFailed, msgLen)
	}
	msg := rest[:msgLen]
	receiver := string(rest[msgLen:])
	if c.receiverID != "" && receiver != c.receiverID {
		return nil, fmt.Errorf("%w: receiver id mismatch", ErrDecryptFailed)
	}
	return msg, nil
}

// Encrypt wraps plaintext into a signed envelope using the given nonce
// and timestamp.
func (c *AESCodec) Encrypt(plain []byte, nonce, timestamp string) (Envelope, error) {
	prefix := make([]byte, randomPrefixLen)
	if _, err := rand.Read(prefix); err != nil {
		return Envelope{}, fmt.Errorf("random prefix: %w", err)
	}
	buf := make([]byte, 0, randomPrefixLen+4+len(plain)+len(c.receiverID))
	buf = append(buf, prefix...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(plain)))
	buf = append(buf, plain...)
	buf = append(buf, []byte(c.receiverID)...)
	buf = pkcs7Pad(buf)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return Envelope{}, fmt.Errorf("new cipher: %w", err)
	}
	ciphertext := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, c.key[:aes.BlockSize]).CryptBlocks(ciphertext, buf)
	encrypted := base64.StdEncoding.EncodeToString(ciphertext)
	return Envelope{
		Encrypt:   encrypted,
		Signature: c.Signature(timestamp, nonce, encrypted),
		Timestamp: timestamp,
		Nonce:     nonce,
	}, nil
}

// DownloadMedia fetches platform-hosted encrypted media and decrypts it
// with the per-message AES key, returning the bytes and sniffed MIME.
func (c *AESCodec) DownloadMedia(ctx context.Context, url, key string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if strings.TrimSpace(key) == "" {
		return body, SniffMIME(body), nil
	}
	mediaKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(key) + "=")
	if err != nil {
		return nil, "", fmt.Errorf("%w: media key: %v", ErrMalformed, err)
	}
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, "", fmt.Errorf("%w: media length %d", ErrMalformed, len(body))
	}
	block, err := aes.NewCipher(mediaKey)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, mediaKey[:aes.BlockSize]).CryptBlocks(plain, body)
	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return nil, "", err
	}
	return plain, SniffMIME(plain), nil
}

func pkcs7Pad(data []byte) []byte {
	padLen := aesBlockSize - len(data)%aesBlockSize
	if padLen == 0 {
		padLen = aesBlockSize
	}
	padded := make([]byte, len(data), len(data)+padLen)
	copy(padded, data)
	for i := 0; i < padLen; i++ {
		padded = append(padded, byte(padLen))
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecryptFailed)
	}
	padLen := int(data[len(data)-1])
	if padLen < 1 || padLen > aesBlockSize || padLen > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryptFailed)
	}
	return data[:len(data)-padLen], nil
}

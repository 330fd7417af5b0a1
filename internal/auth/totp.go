package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"image/png"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	ivBytes      = 12
	authTagBytes = 16
	qrImageSize  = 200
)

var (
	ErrInvalidSecretFormat = errors.New("auth: invalid two-factor secret format")
	sixDigits              = regexp.MustCompile(`^\d{6}$`)
)

// Enrollment is a freshly generated TOTP secret ready to be shown to an admin.
type Enrollment struct {
	Secret     string `json:"manualEntryKey"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRDataURL  string `json:"qrCode"`
}

// GenerateTOTP creates a new secret for account under issuer, including a PNG
// QR code of the otpauth URL encoded as a data URL.
func GenerateTOTP(issuer, account string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, err
	}
	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return Enrollment{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Enrollment{}, err
	}
	return Enrollment{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRDataURL:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// VerifyTOTP checks a six digit token against secret, accepting one step of
// clock skew either way. Whitespace in the token is ignored.
func VerifyTOTP(secret, token string, now time.Time) bool {
	token = strings.Join(strings.Fields(token), "")
	if !sixDigits.MatchString(token) {
		return false
	}
	ok, err := totp.ValidateCustom(token, secret, now.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// SecretBox encrypts TOTP secrets at rest with AES-256-GCM. The key is the
// SHA-256 digest of the signing key. Sealed values read "iv:tag:ciphertext",
// each part unpadded base64url.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives the encryption key from signingKey.
func NewSecretBox(signingKey string) (*SecretBox, error) {
	if signingKey == "" {
		return nil, errors.New("auth: signing key required")
	}
	sum := sha256.Sum256([]byte(signingKey))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SecretBox{aead: aead}, nil
}

// Seal encrypts plaintext.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	iv := make([]byte, ivBytes)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	out := b.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := out[:len(out)-authTagBytes], out[len(out)-authTagBytes:]

	enc := base64.RawURLEncoding
	return enc.EncodeToString(iv) + ":" + enc.EncodeToString(tag) + ":" + enc.EncodeToString(ct), nil
}

// Open decrypts a value produced by Seal.
func (b *SecretBox) Open(sealed string) (string, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", ErrInvalidSecretFormat
	}
	enc := base64.RawURLEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil || len(iv) != ivBytes {
		return "", ErrInvalidSecretFormat
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != authTagBytes {
		return "", ErrInvalidSecretFormat
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidSecretFormat
	}
	plain, err := b.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

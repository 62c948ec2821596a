package report

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/how2validate/apiserver/internal/config"
)

// Envelope is the hybrid-encrypted report payload submitted by a client: an
// RSA-wrapped AES key, the CBC initialization vector, and the AES ciphertext,
// all base64-encoded. Envelopes are consumed once and never persisted.
type Envelope struct {
	Key  string `json:"key"`
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// ErrEnvelopeDecryption indicates the wrapped symmetric key could not be
// recovered with the server's private key.
var ErrEnvelopeDecryption = errors.New("report: envelope key decryption failed")

// ErrPayloadDecryption indicates the AES payload could not be decrypted
// (wrong key, corrupted ciphertext, or bad padding).
var ErrPayloadDecryption = errors.New("report: payload decryption failed")

// ErrMalformedPayload indicates the decrypted bytes are not a JSON object.
var ErrMalformedPayload = errors.New("report: decrypted payload is not valid JSON")

// Decryptor recovers plaintext report objects from hybrid RSA/AES envelopes.
// The per-submission AES key is wrapped under the server's public key, so
// clients never share a long-lived secret and the RSA input stays bounded.
type Decryptor struct {
	privateKey   *rsa.PrivateKey
	publicKeyPEM string
}

// NewDecryptor parses the configured PEM key pair.
func NewDecryptor(keys config.KeysConfig) (*Decryptor, error) {
	privateKey, errParse := parsePrivateKey(keys.PrivateKeyPEM)
	if errParse != nil {
		return nil, errParse
	}
	return &Decryptor{privateKey: privateKey, publicKeyPEM: keys.PublicKeyPEM}, nil
}

// PublicKeyPEM returns the server public key handed to clients for envelope
// encryption.
func (d *Decryptor) PublicKeyPEM() string {
	if d == nil {
		return ""
	}
	return d.publicKeyPEM
}

// Decrypt reconstructs the report object from an envelope and stamps the
// submitter's notification address onto it, overwriting any client-supplied
// email so dispatch always targets a server-known destination.
func (d *Decryptor) Decrypt(env Envelope, notifyEmail string) (map[string]any, error) {
	if d == nil || d.privateKey == nil {
		return nil, fmt.Errorf("report: decryptor not initialized")
	}

	wrappedKey, errKey := base64.StdEncoding.DecodeString(env.Key)
	if errKey != nil {
		return nil, fmt.Errorf("%w: invalid key encoding", ErrEnvelopeDecryption)
	}
	aesKey, errUnwrap := rsa.DecryptOAEP(sha256.New(), nil, d.privateKey, wrappedKey, nil)
	if errUnwrap != nil {
		return nil, ErrEnvelopeDecryption
	}

	iv, errIV := base64.StdEncoding.DecodeString(env.IV)
	if errIV != nil {
		return nil, fmt.Errorf("%w: invalid iv encoding", ErrPayloadDecryption)
	}
	ciphertext, errData := base64.StdEncoding.DecodeString(env.Data)
	if errData != nil {
		return nil, fmt.Errorf("%w: invalid data encoding", ErrPayloadDecryption)
	}

	plaintext, errDecrypt := decryptCBC(aesKey, iv, ciphertext)
	if errDecrypt != nil {
		return nil, errDecrypt
	}

	var payload map[string]any
	if errUnmarshal := json.Unmarshal(plaintext, &payload); errUnmarshal != nil {
		return nil, ErrMalformedPayload
	}

	payload["email"] = notifyEmail
	return payload, nil
}

// decryptCBC runs AES-CBC decryption and strips PKCS#7 padding.
func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, errCipher := aes.NewCipher(key)
	if errCipher != nil {
		return nil, ErrPayloadDecryption
	}
	if len(iv) != aes.BlockSize {
		return nil, ErrPayloadDecryption
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrPayloadDecryption
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return stripPKCS7(plaintext)
}

// stripPKCS7 validates and removes PKCS#7 padding.
func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrPayloadDecryption
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, ErrPayloadDecryption
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrPayloadDecryption
		}
	}
	return data[:len(data)-padLen], nil
}

// parsePrivateKey decodes a PEM-encoded RSA private key in PKCS#8 or PKCS#1
// form.
func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("report: no PEM block in private key")
	}

	if key, errPKCS8 := x509.ParsePKCS8PrivateKey(block.Bytes); errPKCS8 == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("report: private key is not RSA")
		}
		return rsaKey, nil
	}

	rsaKey, errPKCS1 := x509.ParsePKCS1PrivateKey(block.Bytes)
	if errPKCS1 != nil {
		return nil, fmt.Errorf("report: parse private key: %w", errPKCS1)
	}
	return rsaKey, nil
}

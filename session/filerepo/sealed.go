package filerepo

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// seal encrypts plaintext as nonce||ciphertext with XChaCha20-Poly1305.
func (r *Repo) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(r.sealKey)
	if err != nil {
		return nil, errors.Wrap(err, "construct cipher")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (r *Repo) unseal(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(r.sealKey)
	if err != nil {
		return nil, errors.Wrap(err, "construct cipher")
	}
	if len(data) < aead.NonceSize() {
		return nil, errors.New("sealed blob too short")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open sealed blob")
	}
	return plaintext, nil
}

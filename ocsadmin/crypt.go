package main

import (
	"go.dedis.ch/kyber/v3/util/random"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/xerrors"
)

// newSymKey returns a fresh key for encrypting one document.
func newSymKey() []byte {
	return random.Bits(chacha20poly1305.KeySize*8, false, random.New())
}

// encrypt seals the document. The nonce is prepended to the ciphertext.
func encrypt(key, doc []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := random.Bits(chacha20poly1305.NonceSize*8, false, random.New())
	return aead.Seal(nonce, nonce, doc, nil), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(data) < aead.NonceSize() {
		return nil, xerrors.New("document too short")
	}
	nonce, ct := data[:aead.NonceSize()], data[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, nil)
}

package signetcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AES256CBCEncrypt encrypts buf under key32/iv16 with no padding; buf's
// length must already be a multiple of the AES block size (spec §6:
// "input length must be 16-aligned" — callers own padding/unpadding).
func AES256CBCEncrypt(buf, key32, iv16 []byte) ([]byte, error) {
	mode, err := cbcEncrypter(key32, iv16, buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(buf))
	mode.CryptBlocks(out, buf)
	return out, nil
}

// AES256CBCDecrypt decrypts buf under key32/iv16 with no padding.
func AES256CBCDecrypt(buf, key32, iv16 []byte) ([]byte, error) {
	block, err := aes.NewCipher(key32)
	if err != nil {
		return nil, fmt.Errorf("signetcrypto: AES key setup: %w", err)
	}
	if err := checkBlockAligned(buf); err != nil {
		return nil, err
	}
	mode := cipher.NewCBCDecrypter(block, iv16)
	out := make([]byte, len(buf))
	mode.CryptBlocks(out, buf)
	return out, nil
}

func cbcEncrypter(key32, iv16, buf []byte) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(key32)
	if err != nil {
		return nil, fmt.Errorf("signetcrypto: AES key setup: %w", err)
	}
	if err := checkBlockAligned(buf); err != nil {
		return nil, err
	}
	return cipher.NewCBCEncrypter(block, iv16), nil
}

func checkBlockAligned(buf []byte) error {
	if len(buf)%aes.BlockSize != 0 {
		return fmt.Errorf("signetcrypto: input length %d is not a multiple of the AES block size", len(buf))
	}
	return nil
}

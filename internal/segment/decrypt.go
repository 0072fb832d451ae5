// Package segment decrypts transport-stream segments and persists them
// under the archive directory layout, producing the concat manifest the
// assembler consumes.
package segment

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// ErrDecrypt marks failures turning one ciphertext segment into plaintext.
var ErrDecrypt = errors.New("segment decrypt failed")

// Decrypt decrypts one segment with AES-CBC. The key and IV are shared by
// every segment of a playlist; the IV is not re-derived per segment.
// Segments are block-aligned transport streams, so no padding is removed.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("%w: iv length %d, want %d", ErrDecrypt, len(iv), block.BlockSize())
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a positive multiple of %d", ErrDecrypt, len(ciphertext), block.BlockSize())
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}

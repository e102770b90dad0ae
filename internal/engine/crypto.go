package engine

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"sync"
)

// keyCache maps a key URI to its fetched 16-byte key, scoped to a
// single task's lifetime (spec §3, "Key material"). Keys are fetched
// lazily on first use and zeroized once the task's segment downloads
// finish.
type keyCache struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func newKeyCache() *keyCache {
	return &keyCache{keys: make(map[string][]byte)}
}

// resolve returns the cached key for keyURL, fetching and caching it on
// first use.
func (kc *keyCache) resolve(ctx context.Context, client *Client, keyURL string, headers map[string]string) ([]byte, error) {
	kc.mu.Lock()
	if k, ok := kc.keys[keyURL]; ok {
		kc.mu.Unlock()
		return k, nil
	}
	kc.mu.Unlock()

	key, err := client.GetBytes(ctx, keyURL, headers)
	if err != nil {
		return nil, err
	}
	if len(key) != 16 {
		return nil, &DecryptError{Kind: BadKeyLength}
	}

	kc.mu.Lock()
	kc.keys[keyURL] = key
	kc.mu.Unlock()
	return key, nil
}

// zeroize wipes every cached key. Called when the task's worker pool
// returns, before muxing.
func (kc *keyCache) zeroize() {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	for uri, key := range kc.keys {
		for i := range key {
			key[i] = 0
		}
		delete(kc.keys, uri)
	}
}

// decryptAES128CBC decrypts ciphertext into a new buffer using
// AES-128-CBC and strips PKCS#7 padding (spec §4.3).
func decryptAES128CBC(ciphertext, key, iv []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, &DecryptError{Kind: BadKeyLength}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, &DecryptError{Kind: BadPadding}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &DecryptError{Kind: BadKeyLength}
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(plaintext) {
		return nil, &DecryptError{Kind: BadPadding}
	}
	for _, b := range plaintext[len(plaintext)-padding:] {
		if int(b) != padding {
			return nil, &DecryptError{Kind: BadPadding}
		}
	}

	return plaintext[:len(plaintext)-padding], nil
}

// Package secure holds identity private-key material in protected
// memory for the lifetime of a command invocation. Keys live in a
// memguard enclave: encrypted at rest in memory, mlocked against
// swapping, and never persisted in plaintext.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// KeyBuffer stores one private key (an age identity string or raw key
// bytes) in an encrypted enclave.
type KeyBuffer struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// NewKeyBuffer copies data into a protected memory region. The caller
// should zero its own copy afterwards.
func NewKeyBuffer(data []byte) *KeyBuffer {
	return &KeyBuffer{enclave: memguard.NewEnclave(data)}
}

// Open decrypts the key into a locked buffer. The caller MUST call
// Destroy() on the returned buffer when done to wipe the plaintext.
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	key := locked.Bytes()
func (b *KeyBuffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return b.enclave.Open()
}

// String opens the buffer and returns its contents as a string,
// destroying the locked copy before returning. Convenient for APIs
// that take key strings (age identities); the returned string is an
// ordinary Go string and escapes enclave protection, so keep its
// lifetime short.
func (b *KeyBuffer) String() (string, error) {
	locked, err := b.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Destroy marks the buffer as destroyed. Idempotent; after Destroy,
// Open returns an empty buffer. Call memguard.Purge() at process exit
// for full cleanup of all enclaves.
func (b *KeyBuffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

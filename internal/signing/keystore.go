package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// KeySize 는 HMAC-SHA256 키 길이 (bytes).
const KeySize = 32

var ErrNoKey = errors.New("no signing key installed")

// KeyStore
//
// 서명 키를 보관하는 곳. 키 자체는 밖으로 내보내지 않고
// 서명 연산만 노출한다 (하드웨어 키 저장소로 바꿀 수 있도록).
type KeyStore interface {
	HasSigningKey() bool
	Sign(data []byte) ([]byte, error)
}

// HMACKeyStore 는 메모리에 32바이트 키를 들고 HMAC-SHA256 으로 서명한다.
type HMACKeyStore struct {
	mu  sync.RWMutex
	key []byte
}

func NewHMACKeyStore(key []byte) (*HMACKeyStore, error) {
	ks := &HMACKeyStore{}
	if key == nil {
		return ks, nil
	}
	if err := ks.Install(key); err != nil {
		return nil, err
	}
	return ks, nil
}

// LoadHMACKeyFile reads a hex encoded key. An empty path yields an empty store.
func LoadHMACKeyFile(path string) (*HMACKeyStore, error) {
	if path == "" {
		return &HMACKeyStore{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	return NewHMACKeyStore(key)
}

func (ks *HMACKeyStore) Install(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("signing key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)

	ks.mu.Lock()
	ks.key = k
	ks.mu.Unlock()
	return nil
}

func (ks *HMACKeyStore) HasSigningKey() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.key) == KeySize
}

func (ks *HMACKeyStore) Sign(data []byte) ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if len(ks.key) != KeySize {
		return nil, ErrNoKey
	}
	mac := hmac.New(sha256.New, ks.key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

package wifi

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalidPassphrase = errors.New("wifi: passphrase must be 8-63 printable characters or 64 hex digits")
	ErrInvalidWEPKey     = errors.New("wifi: WEP key must be 5 or 13 characters, or 10 or 26 hex digits")
)

// PSKLen is the length of a WPA pre-shared key.
const PSKLen = 32

// DerivePSK turns a WPA passphrase into the pre-shared key for ssid
// (IEEE 802.11i, PBKDF2-HMAC-SHA1 with 4096 rounds). A 64 hex digit
// passphrase is taken as the key itself.
func DerivePSK(ssid, passphrase string) ([]byte, error) {
	if len(passphrase) == 2*PSKLen {
		if key, err := hex.DecodeString(passphrase); err == nil {
			return key, nil
		}
	}
	if len(passphrase) < 8 || len(passphrase) > 63 {
		return nil, ErrInvalidPassphrase
	}
	for i := 0; i < len(passphrase); i++ {
		if c := passphrase[i]; c < 32 || c > 126 {
			return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidPassphrase, i)
		}
	}
	return pbkdf2.Key([]byte(passphrase), []byte(ssid), 4096, PSKLen, sha1.New), nil
}

// WEPKey decodes a 40 or 104 bit WEP key given as ASCII or hex.
func WEPKey(key string) ([]byte, error) {
	switch len(key) {
	case 5, 13:
		return []byte(key), nil
	case 10, 26:
		b, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWEPKey, err)
		}
		return b, nil
	}
	return nil, ErrInvalidWEPKey
}

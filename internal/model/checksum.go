package model

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// ErrBadChecksum is returned for malformed checksum strings.
var ErrBadChecksum = errors.New("malformed checksum")

// Checksum is a parsed Patch.Hash.
type Checksum struct {
	Algorithm string
	Sum       []byte
}

// ParseChecksum parses "sha1:<hex>" or "sha256:<hex>".
func ParseChecksum(s string) (Checksum, error) {
	algo, digest, ok := strings.Cut(s, ":")
	if !ok {
		return Checksum{}, fmt.Errorf("%w: %q", ErrBadChecksum, s)
	}
	algo = strings.ToLower(algo)
	sum, err := hex.DecodeString(digest)
	if err != nil {
		return Checksum{}, fmt.Errorf("%w: %v", ErrBadChecksum, err)
	}
	var size int
	switch algo {
	case "sha1":
		size = sha1.Size
	case "sha256":
		size = sha256.Size
	default:
		return Checksum{}, fmt.Errorf("%w: unsupported algorithm %q", ErrBadChecksum, algo)
	}
	if len(sum) != size {
		return Checksum{}, fmt.Errorf("%w: %s digest must be %d bytes", ErrBadChecksum, algo, size)
	}
	return Checksum{Algorithm: algo, Sum: sum}, nil
}

// New returns a hash.Hash for the checksum algorithm.
func (c Checksum) New() hash.Hash {
	if c.Algorithm == "sha1" {
		return sha1.New()
	}
	return sha256.New()
}

func (c Checksum) String() string {
	return c.Algorithm + ":" + hex.EncodeToString(c.Sum)
}

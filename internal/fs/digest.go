package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Digest identifies file or directory content by fingerprint and length.
type Digest struct {
	Fingerprint [32]byte
	Size        int64
}

var (
	// EmptyFileDigest is the digest of zero bytes.
	EmptyFileDigest = DigestOf(nil)

	// EmptyDirectoryDigest is the digest of a directory with no entries.
	EmptyDirectoryDigest Digest
)

func init() {
	d, _, err := (&Directory{}).Encode()
	if err != nil {
		panic(fmt.Sprintf("fs: encode empty directory: %v", err))
	}
	EmptyDirectoryDigest = d
}

// DigestOf hashes raw file bytes.
func DigestOf(data []byte) Digest {
	return Digest{Fingerprint: sha256.Sum256(data), Size: int64(len(data))}
}

// Hex returns the fingerprint as lowercase hex.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.Fingerprint[:])
}

// String renders the digest as <hex>/<size>.
func (d Digest) String() string {
	return d.Hex() + "/" + strconv.FormatInt(d.Size, 10)
}

// IsZero reports whether d is the zero value (not a valid digest of anything).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest parses the <hex>/<size> form produced by String.
func ParseDigest(s string) (Digest, error) {
	fp, size, ok := strings.Cut(s, "/")
	if !ok {
		return Digest{}, fmt.Errorf("invalid digest %q: want <hex>/<size>", s)
	}
	return NewDigest(fp, size)
}

// NewDigest builds a digest from a hex fingerprint and decimal size.
func NewDigest(fingerprint, size string) (Digest, error) {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil || len(raw) != sha256.Size {
		return Digest{}, fmt.Errorf("invalid fingerprint %q", fingerprint)
	}
	n, err := strconv.ParseInt(size, 10, 64)
	if err != nil || n < 0 {
		return Digest{}, fmt.Errorf("invalid size %q", size)
	}
	var d Digest
	copy(d.Fingerprint[:], raw)
	d.Size = n
	return d, nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Package digest streams a file through a cryptographic hash and returns
// the raw digest bytes, per spec.md §4.2.
package digest

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"io"
	"os"

	"github.com/vers-project/veobuilder/errcode"
)

const moduleName = "digest"

// bufferSize matches spec.md's "1 KiB is acceptable" guidance.
const bufferSize = 1024

// Algorithm is a validated hash identifier accepted by HashFile and, via
// its AlgoID, by the signature builder.
type Algorithm string

const (
	SHA1   Algorithm = "SHA-1"
	SHA256 Algorithm = "SHA-256"
	SHA384 Algorithm = "SHA-384"
	SHA512 Algorithm = "SHA-512"
)

// newHasher returns the stdlib hash.Hash for a supported algorithm, or
// an error naming the rejected algorithm. MD2 and MD5 are explicitly
// rejected, as is anything else not in the supported set.
func newHasher(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, errcode.Newf(errcode.CodeDigestUnsupportedAlgorithm, errcode.Fatal,
			moduleName, "HashFile", "unsupported hash algorithm %q", string(algo))
	}
}

// Supported reports whether algo is one of the four accepted values.
func Supported(algo Algorithm) bool {
	_, err := newHasher(algo)
	return err == nil
}

// HashFile streams path in fixed-size buffers through algo and returns
// the raw digest bytes.
func HashFile(path string, algo Algorithm) ([]byte, error) {
	h, err := newHasher(algo)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errcode.Wrapf(errcode.CodeDigestSourceMissing, errcode.Recoverable,
			moduleName, "HashFile", err, "cannot open %s", path)
	}
	defer f.Close()

	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return nil, errcode.Wrapf(errcode.CodeDigestReadFailed, errcode.Recoverable,
			moduleName, "HashFile", err, "read failed for %s", path)
	}
	return h.Sum(nil), nil
}

// HashBytes hashes an in-memory buffer, used by the signature builder to
// hash a finished manifest file's contents.
func HashBytes(data []byte, algo Algorithm) ([]byte, error) {
	h, err := newHasher(algo)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// AlgoID returns the short identifier used when composing a signature
// algorithm name, e.g. SHA-256 -> "SHA256".
func (a Algorithm) AlgoID() string {
	switch a {
	case SHA1:
		return "SHA1"
	case SHA256:
		return "SHA256"
	case SHA384:
		return "SHA384"
	case SHA512:
		return "SHA512"
	default:
		return ""
	}
}

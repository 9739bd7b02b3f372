// Package signer models the "external service yields a private key,
// certificate, and ordered certificate chain" collaborator from
// spec.md §1, and provides concrete constructors over RSA, DSA, and
// ECDSA keys: a PKCS#12 file reader and a remote-delegate identity
// backed by a signing collaborator (see remotesign).
package signer

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"hash"
	"math/big"

	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/errcode"
)

const moduleName = "signer"

// KeyAlgorithm identifies the signer's asymmetric key family, one of
// the three supported by spec.md §4.5.
type KeyAlgorithm string

const (
	RSA   KeyAlgorithm = "RSA"
	DSA   KeyAlgorithm = "DSA"
	ECDSA KeyAlgorithm = "ECDSA"
)

// Identity is a signing identity: a private key of a known algorithm,
// a subject distinguished name, and an ordered DER certificate chain
// (leaf first).
type Identity struct {
	Algorithm KeyAlgorithm
	Subject   string
	Chain     [][]byte // DER-encoded, leaf first

	rsaKey   *rsa.PrivateKey
	dsaKey   *dsa.PrivateKey
	ecdsaKey *ecdsa.PrivateKey

	// remoteSign, when set, signs a pre-hashed digest by calling out to a
	// collaborator instead of a locally-held private key (see FromRemote).
	remoteSign func(sum []byte, hashAlgo digest.Algorithm) ([]byte, error)
}

// dsaSignature is the ASN.1 SEQUENCE { r INTEGER, s INTEGER } shape
// used to encode a DSA/ECDSA-style (r,s) pair.
type dsaSignature struct {
	R, S *big.Int
}

// FromRSA builds an Identity around an RSA private key.
func FromRSA(key *rsa.PrivateKey, subject string, chain [][]byte) (*Identity, error) {
	if err := requireChain(chain); err != nil {
		return nil, err
	}
	return &Identity{Algorithm: RSA, Subject: subject, Chain: chain, rsaKey: key}, nil
}

// FromDSA builds an Identity around a DSA private key.
func FromDSA(key *dsa.PrivateKey, subject string, chain [][]byte) (*Identity, error) {
	if err := requireChain(chain); err != nil {
		return nil, err
	}
	return &Identity{Algorithm: DSA, Subject: subject, Chain: chain, dsaKey: key}, nil
}

// FromECDSA builds an Identity around an ECDSA private key.
func FromECDSA(key *ecdsa.PrivateKey, subject string, chain [][]byte) (*Identity, error) {
	if err := requireChain(chain); err != nil {
		return nil, err
	}
	return &Identity{Algorithm: ECDSA, Subject: subject, Chain: chain, ecdsaKey: key}, nil
}

// FromRemote builds an Identity that signs by delegating to signFunc
// instead of a locally-held private key, for callers fronting a signing
// microservice (see the remotesign package). algorithm should be
// whichever of RSA/DSA/ECDSA the remote key actually is, since veosign's
// algorithm-combo check composes it with the hash identifier the same
// way it would for a local key.
func FromRemote(algorithm KeyAlgorithm, subject string, chain [][]byte, signFunc func(sum []byte, hashAlgo digest.Algorithm) ([]byte, error)) (*Identity, error) {
	if err := requireChain(chain); err != nil {
		return nil, err
	}
	if signFunc == nil {
		return nil, errcode.New(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
			moduleName, "FromRemote", "signFunc must not be nil")
	}
	return &Identity{Algorithm: algorithm, Subject: subject, Chain: chain, remoteSign: signFunc}, nil
}

func requireChain(chain [][]byte) error {
	if len(chain) == 0 {
		return errcode.New(errcode.CodeSignerCertChainEmpty, errcode.Fatal,
			moduleName, "requireChain", "certificate chain must not be empty")
	}
	return nil
}

// SubjectFromLeaf derives a printable subject DN from the leaf
// certificate in chain, used by adapters that don't otherwise know it.
func SubjectFromLeaf(leaf []byte) (string, error) {
	cert, err := x509.ParseCertificate(leaf)
	if err != nil {
		return "", errcode.Wrapf(errcode.CodeSignerBadPFX, errcode.Recoverable,
			moduleName, "SubjectFromLeaf", err, "cannot parse leaf certificate")
	}
	return subjectDN(cert.Subject), nil
}

func subjectDN(name pkix.Name) string {
	return name.String()
}

func hashFuncFor(algo digest.Algorithm) (crypto.Hash, error) {
	switch algo {
	case digest.SHA1:
		return crypto.SHA1, nil
	case digest.SHA256:
		return crypto.SHA256, nil
	case digest.SHA384:
		return crypto.SHA384, nil
	case digest.SHA512:
		return crypto.SHA512, nil
	default:
		return 0, errcode.Newf(errcode.CodeSignerUnsupportedKey, errcode.Fatal,
			moduleName, "hashFuncFor", "unsupported hash algorithm %q", string(algo))
	}
}

func newHash(algo digest.Algorithm) (hash.Hash, error) {
	switch algo {
	case digest.SHA1:
		return sha1.New(), nil
	case digest.SHA256:
		return sha256.New(), nil
	case digest.SHA384:
		return sha512.New384(), nil
	case digest.SHA512:
		return sha512.New(), nil
	default:
		return nil, errcode.Newf(errcode.CodeSignerUnsupportedKey, errcode.Fatal,
			moduleName, "newHash", "unsupported hash algorithm %q", string(algo))
	}
}

// Sign hashes data under hashAlgo and signs the digest with the
// identity's private key, returning the raw signature bytes.
func (id *Identity) Sign(data []byte, hashAlgo digest.Algorithm) ([]byte, error) {
	h, err := newHash(hashAlgo)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return id.SignDigest(h.Sum(nil), hashAlgo)
}

// SignDigest signs an already-computed digest directly, without
// hashing it again first. It's the primitive Sign builds on, exposed
// separately for collaborators (see remotesign.Server) that receive a
// pre-hashed digest over the wire and must sign exactly that value.
func (id *Identity) SignDigest(sum []byte, hashAlgo digest.Algorithm) ([]byte, error) {
	if id.remoteSign != nil {
		return id.remoteSign(sum, hashAlgo)
	}

	switch id.Algorithm {
	case RSA:
		hf, err := hashFuncFor(hashAlgo)
		if err != nil {
			return nil, err
		}
		sig, err := rsa.SignPKCS1v15(rand.Reader, id.rsaKey, hf, sum)
		if err != nil {
			return nil, errcode.Wrapf(errcode.CodeSignerUnsupportedKey, errcode.Fatal,
				moduleName, "Sign", err, "RSA signing failed")
		}
		return sig, nil
	case DSA:
		r, s, err := dsa.Sign(rand.Reader, id.dsaKey, sum)
		if err != nil {
			return nil, errcode.Wrapf(errcode.CodeSignerUnsupportedKey, errcode.Fatal,
				moduleName, "Sign", err, "DSA signing failed")
		}
		sig, err := asn1.Marshal(dsaSignature{R: r, S: s})
		if err != nil {
			return nil, errcode.Wrapf(errcode.CodeSignerUnsupportedKey, errcode.Fatal,
				moduleName, "Sign", err, "DSA signature encoding failed")
		}
		return sig, nil
	case ECDSA:
		sig, err := ecdsa.SignASN1(rand.Reader, id.ecdsaKey, sum)
		if err != nil {
			return nil, errcode.Wrapf(errcode.CodeSignerUnsupportedKey, errcode.Fatal,
				moduleName, "Sign", err, "ECDSA signing failed")
		}
		return sig, nil
	default:
		return nil, errcode.Newf(errcode.CodeSignerUnsupportedKey, errcode.Fatal,
			moduleName, "Sign", "unsupported key algorithm %q", string(id.Algorithm))
	}
}

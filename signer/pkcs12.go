package signer

import (
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/rsa"

	"golang.org/x/crypto/pkcs12"

	"github.com/vers-project/veobuilder/errcode"
)

// FromPKCS12 loads a signer identity from a PFX/PKCS#12 key store,
// satisfying spec.md §1's "external service yields a private key,
// certificate, and ordered certificate chain" collaborator for the
// common case of a PFX file on disk.
func FromPKCS12(data []byte, password string) (*Identity, error) {
	privateKey, leaf, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, errcode.Wrapf(errcode.CodeSignerBadPFX, errcode.Recoverable,
			moduleName, "FromPKCS12", err, "cannot decode PKCS#12 store (wrong password?)")
	}

	chain := make([][]byte, 0, 1+len(caCerts))
	chain = append(chain, leaf.Raw)
	for _, c := range caCerts {
		chain = append(chain, c.Raw)
	}
	subject := subjectDN(leaf.Subject)

	switch key := privateKey.(type) {
	case *rsa.PrivateKey:
		return FromRSA(key, subject, chain)
	case *dsa.PrivateKey:
		return FromDSA(key, subject, chain)
	case *ecdsa.PrivateKey:
		return FromECDSA(key, subject, chain)
	default:
		return nil, errcode.Newf(errcode.CodeSignerUnsupportedKey, errcode.Recoverable,
			moduleName, "FromPKCS12", "unsupported private key type %T", privateKey)
	}
}

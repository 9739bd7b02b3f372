// Package veosign hashes a finished manifest, invokes the signer's
// asymmetric signature primitive, and emits a signature descriptor
// bound to the signer's certificate chain, per spec.md §4.5.
package veosign

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/errcode"
	"github.com/vers-project/veobuilder/signer"
	"github.com/vers-project/veobuilder/xmlwriter"
)

const moduleName = "veosign"

const (
	contentManifestName = "VEOContent.xml"
	historyManifestName = "VEOHistory.xml"
)

// permittedAlgorithms is the exact set spec.md §4.5 step 2 allows.
var permittedAlgorithms = map[string]bool{
	"SHA1withDSA":    true,
	"SHA1withRSA":    true,
	"SHA224withDSA":  true,
	"SHA224withRSA":  true,
	"SHA256withDSA":  true,
	"SHA256withRSA":  true,
	"SHA256withECDSA": true,
	"SHA384withRSA":   true,
	"SHA384withECDSA": true,
	"SHA512withRSA":   true,
	"SHA512withECDSA": true,
}

// Sign hashes stagingDir/manifestFilename and emits a signature
// descriptor for it, signed by identity under hashAlgo. Returns the
// descriptor's file name (relative to stagingDir).
func Sign(stagingDir, manifestFilename string, identity *signer.Identity, hashAlgo digest.Algorithm, now time.Time) (string, error) {
	preamble, err := preambleFor(manifestFilename)
	if err != nil {
		return "", err
	}

	algoID := hashAlgo.AlgoID()
	fullAlgo := algoID + "with" + string(identity.Algorithm)
	if !permittedAlgorithms[fullAlgo] {
		return "", errcode.Newf(errcode.CodeSignUnsupportedAlgoCombo, errcode.Fatal,
			moduleName, "Sign", "unsupported signature algorithm combination %q", fullAlgo)
	}

	manifestPath := filepath.Join(stagingDir, manifestFilename)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", errcode.Wrapf(errcode.CodeSignManifestReadFailed, errcode.Recoverable,
			moduleName, "Sign", err, "cannot read %s", manifestPath)
	}

	sig, err := identity.Sign(data, hashAlgo)
	if err != nil {
		return "", err
	}

	n, err := nextSuffix(stagingDir, preamble)
	if err != nil {
		return "", err
	}
	descriptorName := fmt.Sprintf("%sSignature%d.xml", preamble, n)
	descriptorPath := filepath.Join(stagingDir, descriptorName)

	if err := writeDescriptor(descriptorPath, fullAlgo, identity, sig, now); err != nil {
		return "", err
	}
	return descriptorName, nil
}

func preambleFor(manifestFilename string) (string, error) {
	switch manifestFilename {
	case contentManifestName:
		return "VEOContent", nil
	case historyManifestName:
		return "VEOHistory", nil
	default:
		return "", errcode.Newf(errcode.CodeSignBadManifestName, errcode.Recoverable,
			moduleName, "preambleFor", "manifest must be %s or %s, got %q",
			contentManifestName, historyManifestName, manifestFilename)
	}
}

// nextSuffix probes stagingDir for the lowest positive integer N such
// that <preamble>Signature<N>.xml does not already exist.
func nextSuffix(stagingDir, preamble string) (int, error) {
	for n := 1; ; n++ {
		candidate := filepath.Join(stagingDir, preamble+"Signature"+strconv.Itoa(n)+".xml")
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return n, nil
		} else if err != nil {
			return 0, errcode.Wrapf(errcode.CodeSignNoAvailableSuffix, errcode.Recoverable,
				moduleName, "nextSuffix", err, "cannot stat %s", candidate)
		}
	}
}

func writeDescriptor(path, fullAlgo string, identity *signer.Identity, sig []byte, now time.Time) error {
	w, err := xmlwriter.Start(path, "vers:SignatureBlock")
	if err != nil {
		return err
	}

	wrapWrite := func(err error) error {
		return errcode.Wrapf(errcode.CodeSignDescriptorWriteFailed, errcode.Recoverable,
			moduleName, "writeDescriptor", err, "write failed for %s", path)
	}

	if err := w.EmitSimpleElement("vers:Version", nil, "3.0"); err != nil {
		return wrapWrite(err)
	}
	if err := w.EmitSimpleElement("vers:SignatureAlgorithm", nil, fullAlgo); err != nil {
		return wrapWrite(err)
	}
	if err := w.EmitSimpleElement("vers:SignatureDateTime", nil, now.UTC().Format("2006-01-02T15:04:05Z07:00")); err != nil {
		return wrapWrite(err)
	}
	if err := w.EmitSimpleElement("vers:Signer", nil, identity.Subject); err != nil {
		return wrapWrite(err)
	}
	if err := w.EmitSimpleElement("vers:Signature", nil, base64.StdEncoding.EncodeToString(sig)); err != nil {
		return wrapWrite(err)
	}

	if err := w.EmitComplexOpen("vers:CertificateChain", nil); err != nil {
		return wrapWrite(err)
	}
	for _, cert := range identity.Chain {
		if err := w.EmitSimpleElement("vers:Certificate", nil, base64.StdEncoding.EncodeToString(cert)); err != nil {
			return wrapWrite(err)
		}
	}
	if err := w.EmitComplexClose("vers:CertificateChain"); err != nil {
		return wrapWrite(err)
	}

	if err := w.End(); err != nil {
		return wrapWrite(err)
	}
	return nil
}

// IsStale reports whether the signature descriptor at path is older
// than the manifest at manifestPath. veo.OpenResign applies the same
// mod-time comparison inline rather than calling this function.
func IsStale(descriptorPath, manifestPath string) (bool, error) {
	dInfo, err := os.Stat(descriptorPath)
	if err != nil {
		return false, errcode.Wrapf(errcode.CodeSignManifestReadFailed, errcode.Recoverable,
			moduleName, "IsStale", err, "cannot stat %s", descriptorPath)
	}
	mInfo, err := os.Stat(manifestPath)
	if err != nil {
		return false, errcode.Wrapf(errcode.CodeSignManifestReadFailed, errcode.Recoverable,
			moduleName, "IsStale", err, "cannot stat %s", manifestPath)
	}
	return dInfo.ModTime().Before(mInfo.ModTime()), nil
}

// ContentManifestName and HistoryManifestName are exported for callers
// (the VEO assembler, resign mode) that need the exact file names.
const (
	ContentManifestName = contentManifestName
	HistoryManifestName = historyManifestName
)

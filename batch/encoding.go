package batch

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/vers-project/veobuilder/errcode"
)

// defaultEncodingName is spec.md §4.8's "default a Western 8-bit
// encoding" — Windows-1252 is the closest named IANA match for what
// legacy VERS tooling actually shipped with.
const defaultEncodingName = "windows-1252"

// resolveEncoding looks up name via the IANA registry, falling back to
// the Western 8-bit default when name is empty. Any registered IANA
// encoding name is accepted, per spec.md §4.8.
func resolveEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return charmap.Windows1252, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, errcode.Newf(errcode.CodeBatchEncodingUnsupported, errcode.Fatal,
			moduleName, "resolveEncoding", "unsupported control-script encoding %q", name)
	}
	return enc, nil
}

// decode transforms raw script bytes from enc into UTF-8 text.
func decode(raw []byte, enc encoding.Encoding) (string, error) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", errcode.Wrapf(errcode.CodeBatchScriptUnreadable, errcode.Fatal,
			moduleName, "decode", err, "cannot decode control script under the configured encoding")
	}
	return string(out), nil
}

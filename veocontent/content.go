// Package veocontent implements the content-manifest build-state machine:
// information objects, metadata packages, information pieces, and
// content-file references, streamed incrementally into VEOContent.xml,
// per spec.md §4.3.
package veocontent

import (
	"encoding/base64"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/errcode"
	"github.com/vers-project/veobuilder/template"
	"github.com/vers-project/veobuilder/xmlwriter"
)

const moduleName = "veocontent"

// RDFSyntaxURI is the syntax URI that triggers the automatic
// rdf:RDF/rdf:Description envelope around a metadata package's body.
const RDFSyntaxURI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"

const rdfNamespaceAttr = `xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"`

// Builder drives the content-manifest state machine. It is not
// goroutine-safe and builds exactly one VEOContent.xml.
type Builder struct {
	w        *xmlwriter.Writer
	st       State
	path     string
	hashAlgo digest.Algorithm
	inRDF    bool
}

// Start creates the content manifest file and emits its version and
// hash-algorithm header elements.
func Start(path, version string, hashAlgo digest.Algorithm) (*Builder, error) {
	w, err := xmlwriter.Start(path, "vers:VEOContent")
	if err != nil {
		return nil, err
	}
	if err := w.EmitSimpleElement("vers:Version", nil, version); err != nil {
		return nil, wrapWrite("Start", err)
	}
	if err := w.EmitSimpleElement("vers:HashFunctionAlgorithm", nil, string(hashAlgo)); err != nil {
		return nil, wrapWrite("Start", err)
	}
	return &Builder{w: w, st: NotStarted, path: path, hashAlgo: hashAlgo}, nil
}

// State reports the builder's current position.
func (b *Builder) State() State { return b.st }

// Path returns the manifest's file path, used by the signature builder.
func (b *Builder) Path() string { return b.path }

func wrapWrite(method string, err error) error {
	return errcode.Wrapf(errcode.CodeContentWriteFailed, errcode.Recoverable, moduleName, method, err, "write failed")
}

func illegalTransition(method string, from State) error {
	return errcode.Newf(errcode.CodeContentIllegalTransition, errcode.Recoverable,
		moduleName, method, "illegal transition: %s from state %s", method, from)
}

// StartIO opens a new information object. Legal from NotStarted or
// FinishedIO.
func (b *Builder) StartIO(typeLabel string, depth int) error {
	if !oneOf(b.st, NotStarted, FinishedIO) {
		return illegalTransition("StartIO", b.st)
	}
	if strings.TrimSpace(typeLabel) == "" {
		return errcode.New(errcode.CodeContentEmptyTypeLabel, errcode.Recoverable,
			moduleName, "StartIO", "information object type must not be empty")
	}
	if depth < 0 {
		return errcode.Newf(errcode.CodeContentNegativeDepth, errcode.Recoverable,
			moduleName, "StartIO", "depth must be non-negative, got %d", depth)
	}

	if err := b.w.EmitComplexOpen("vers:InformationObject", nil); err != nil {
		return wrapWrite("StartIO", err)
	}
	if err := b.w.EmitSimpleElement("vers:InformationObjectType", nil, typeLabel); err != nil {
		return wrapWrite("StartIO", err)
	}
	if err := b.w.EmitSimpleElement("vers:Depth", nil, strconv.Itoa(depth)); err != nil {
		return wrapWrite("StartIO", err)
	}
	b.st = FirstIOStg
	return nil
}

// StartMP opens a metadata package. Legal from FirstIOStg.
// resourceURI is only used when syntaxURI == RDFSyntaxURI.
func (b *Builder) StartMP(schemaURI, syntaxURI, resourceURI string) error {
	if !oneOf(b.st, FirstIOStg) {
		return illegalTransition("StartMP", b.st)
	}
	if strings.TrimSpace(schemaURI) == "" || strings.TrimSpace(syntaxURI) == "" {
		return errcode.New(errcode.CodeContentNilTemplateOrRow, errcode.Recoverable,
			moduleName, "StartMP", "schema and syntax URI are required")
	}

	attrs := []xmlwriter.Attr{
		{Name: "vers:MetadataSchemaIdentifier", Value: schemaURI},
		{Name: "vers:MetadataSyntaxIdentifier", Value: syntaxURI},
	}
	if err := b.w.EmitComplexOpen("vers:MetadataPackage", attrs); err != nil {
		return wrapWrite("StartMP", err)
	}

	b.inRDF = syntaxURI == RDFSyntaxURI
	if b.inRDF {
		if err := b.w.EmitComplexOpen("rdf:RDF", []xmlwriter.Attr{{Name: "xmlns:rdf", Value: "http://www.w3.org/1999/02/22-rdf-syntax-ns#"}}); err != nil {
			return wrapWrite("StartMP", err)
		}
		if err := b.w.EmitComplexOpen("rdf:Description", []xmlwriter.Attr{{Name: "rdf:about", Value: resourceURI}}); err != nil {
			return wrapWrite("StartMP", err)
		}
	}

	b.st = InMP
	return nil
}

// AppendTemplate renders tpl with row and writes the result into the
// open metadata package.
func (b *Builder) AppendTemplate(tpl *template.Template, row []string, now time.Time) error {
	if !oneOf(b.st, InMP) {
		return illegalTransition("AppendTemplate", b.st)
	}
	if tpl == nil || row == nil {
		return errcode.New(errcode.CodeContentNilTemplateOrRow, errcode.Recoverable,
			moduleName, "AppendTemplate", "template and row are required")
	}
	rendered, err := template.Render(tpl, row, now)
	if err != nil {
		return err
	}
	if err := b.w.WriteLiteral(rendered); err != nil {
		return wrapWrite("AppendTemplate", err)
	}
	return nil
}

// AppendLiteral writes text verbatim into the open metadata package.
func (b *Builder) AppendLiteral(text string) error {
	if !oneOf(b.st, InMP) {
		return illegalTransition("AppendLiteral", b.st)
	}
	if err := b.w.WriteLiteral(text); err != nil {
		return wrapWrite("AppendLiteral", err)
	}
	return nil
}

// EmitElement delegates to the underlying XML writer's simple-element
// emission while inside a metadata package.
func (b *Builder) EmitElement(tag string, attrs []xmlwriter.Attr, value string) error {
	if !oneOf(b.st, InMP) {
		return illegalTransition("EmitElement", b.st)
	}
	if err := b.w.EmitSimpleElement(tag, attrs, value); err != nil {
		return wrapWrite("EmitElement", err)
	}
	return nil
}

// OpenComplex delegates to the underlying XML writer's complex-element
// open while inside a metadata package.
func (b *Builder) OpenComplex(tag string, attrs []xmlwriter.Attr) error {
	if !oneOf(b.st, InMP) {
		return illegalTransition("OpenComplex", b.st)
	}
	if err := b.w.EmitComplexOpen(tag, attrs); err != nil {
		return wrapWrite("OpenComplex", err)
	}
	return nil
}

// CloseComplex delegates to the underlying XML writer's complex-element
// close while inside a metadata package.
func (b *Builder) CloseComplex(tag string) error {
	if !oneOf(b.st, InMP) {
		return illegalTransition("CloseComplex", b.st)
	}
	if err := b.w.EmitComplexClose(tag); err != nil {
		return wrapWrite("CloseComplex", err)
	}
	return nil
}

// FinishMP closes the open metadata package, closing the RDF envelope
// first if this package used the RDF syntax URI.
func (b *Builder) FinishMP() error {
	if !oneOf(b.st, InMP) {
		return illegalTransition("FinishMP", b.st)
	}
	if b.inRDF {
		if err := b.w.EmitComplexClose("rdf:Description"); err != nil {
			return wrapWrite("FinishMP", err)
		}
		if err := b.w.EmitComplexClose("rdf:RDF"); err != nil {
			return wrapWrite("FinishMP", err)
		}
		b.inRDF = false
	}
	if err := b.w.EmitComplexClose("vers:MetadataPackage"); err != nil {
		return wrapWrite("FinishMP", err)
	}
	b.st = FirstIOStg
	return nil
}

// StartIP opens a new information piece. Legal from FirstIOStg or
// SecondIOStg. An empty label means "no label"; a non-empty,
// whitespace-only label is an error.
func (b *Builder) StartIP(label string) error {
	if !oneOf(b.st, FirstIOStg, SecondIOStg) {
		return illegalTransition("StartIP", b.st)
	}
	if label != "" && strings.TrimSpace(label) == "" {
		return errcode.New(errcode.CodeContentBlankIPLabel, errcode.Recoverable,
			moduleName, "StartIP", "information piece label must not be blank")
	}

	if err := b.w.EmitComplexOpen("vers:InformationPiece", nil); err != nil {
		return wrapWrite("StartIP", err)
	}
	if label != "" {
		if err := b.w.EmitSimpleElement("vers:Label", nil, label); err != nil {
			return wrapWrite("StartIP", err)
		}
	}
	b.st = FirstIPStg
	return nil
}

// AddContentFile hashes sourcePath under the VEO's hash algorithm and
// emits a <vers:ContentFile> reference for archivePath. Legal from
// FirstIPStg or SecondIPStg.
func (b *Builder) AddContentFile(archivePath, sourcePath string) error {
	if !oneOf(b.st, FirstIPStg, SecondIPStg) {
		return illegalTransition("AddContentFile", b.st)
	}
	if err := validateArchivePath(archivePath); err != nil {
		return err
	}

	sum, err := digest.HashFile(sourcePath, b.hashAlgo)
	if err != nil {
		return err
	}

	if err := b.w.EmitComplexOpen("vers:ContentFile", nil); err != nil {
		return wrapWrite("AddContentFile", err)
	}
	if err := b.w.EmitSimpleElement("vers:PathName", nil, archivePath); err != nil {
		return wrapWrite("AddContentFile", err)
	}
	if err := b.w.EmitSimpleElement("vers:HashValue", nil, base64.StdEncoding.EncodeToString(sum)); err != nil {
		return wrapWrite("AddContentFile", err)
	}
	if err := b.w.EmitComplexClose("vers:ContentFile"); err != nil {
		return wrapWrite("AddContentFile", err)
	}

	b.st = SecondIPStg
	return nil
}

// FinishIP closes the current information piece. Legal only from
// SecondIPStg — finishing an information piece with no content files
// is an illegal transition (there is no route there from FirstIPStg).
func (b *Builder) FinishIP() error {
	if !oneOf(b.st, SecondIPStg) {
		return illegalTransition("FinishIP", b.st)
	}
	if err := b.w.EmitComplexClose("vers:InformationPiece"); err != nil {
		return wrapWrite("FinishIP", err)
	}
	b.st = SecondIOStg
	return nil
}

// FinishIO closes the current information object. Legal from
// FirstIOStg (an IO with metadata packages but no pieces is explicitly
// allowed, per spec.md §9 Open Question (a)) or SecondIOStg.
func (b *Builder) FinishIO() error {
	if !oneOf(b.st, FirstIOStg, SecondIOStg) {
		return illegalTransition("FinishIO", b.st)
	}
	if err := b.w.EmitComplexClose("vers:InformationObject"); err != nil {
		return wrapWrite("FinishIO", err)
	}
	b.st = FinishedIO
	return nil
}

// Close finishes the manifest. Legal only from FinishedIO.
func (b *Builder) Close() error {
	if !oneOf(b.st, FinishedIO) {
		return illegalTransition("Close", b.st)
	}
	b.st = Closed
	if err := b.w.End(); err != nil {
		return wrapWrite("Close", err)
	}
	return nil
}

// Abandon releases the underlying file without completing the
// document, used when the owning VEO is abandoned mid-build.
func (b *Builder) Abandon() error {
	if b.st == Closed {
		return nil
	}
	b.st = Closed
	return b.w.Abort()
}

func validateArchivePath(p string) error {
	if p == "" {
		return errcode.New(errcode.CodeContentBadArchivePath, errcode.Recoverable,
			moduleName, "validateArchivePath", "archive path must not be empty")
	}
	if path.IsAbs(p) || strings.HasPrefix(p, "/") {
		return errcode.Newf(errcode.CodeContentBadArchivePath, errcode.Recoverable,
			moduleName, "validateArchivePath", "archive path %q must be relative", p)
	}
	segments := strings.Split(p, "/")
	if len(segments) < 2 {
		return errcode.Newf(errcode.CodeContentBadArchivePath, errcode.Recoverable,
			moduleName, "validateArchivePath", "archive path %q needs at least two segments", p)
	}
	for _, seg := range segments {
		if seg == "." || seg == ".." || seg == "" {
			return errcode.Newf(errcode.CodeContentBadArchivePath, errcode.Recoverable,
				moduleName, "validateArchivePath", "archive path %q has an illegal %q component", p, seg)
		}
	}
	return nil
}

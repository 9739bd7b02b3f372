// Package veo is the VEO Assembler: the outer state machine that
// coordinates a content builder, a history builder, and the signature
// builder into one Electronic Object, per spec.md §4.7.
package veo

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/errcode"
	"github.com/vers-project/veobuilder/obslog"
	"github.com/vers-project/veobuilder/signer"
	"github.com/vers-project/veobuilder/template"
	"github.com/vers-project/veobuilder/veocontent"
	"github.com/vers-project/veobuilder/veohistory"
	"github.com/vers-project/veobuilder/veosign"
	"github.com/vers-project/veobuilder/xmlwriter"
)

const moduleName = "veo"

const readmeName = "VEOReadme.txt"

// ContentRoot is a legacy root-segment registration: a short archive
// path prefix mapped to the source directory it resolves against.
type ContentRoot struct {
	Name      string
	SourceDir string
}

// ExternalFile is one content file destined for the archive at
// finalisation time, read from its original location rather than
// copied into the staging directory up front.
type ExternalFile struct {
	SourcePath string
	ArchivePath string
}

// Assembler drives one VEO from construction through finalisation. It is
// not goroutine-safe.
type Assembler struct {
	ID         uuid.UUID
	name       string
	stagingDir string
	hashAlgo   digest.Algorithm
	templateDir string

	content *veocontent.Builder
	history *veohistory.Builder

	phase Phase

	roots    map[string]ContentRoot
	external []ExternalFile
	destSeen map[string]bool

	signedCount int

	retain bool
	debug  bool

	logger *slog.Logger
}

// Construct validates workDir and name, stages a fresh VEO, copies the
// readme, and opens the content and history builders. Per spec.md §4.7
// step 1.
func Construct(workDir, name, templateDir string, hashAlgo digest.Algorithm, retain, debug bool, logger *slog.Logger) (*Assembler, error) {
	if logger == nil {
		logger = obslog.Discard()
	}

	info, err := os.Stat(workDir)
	if err != nil || !info.IsDir() {
		return nil, errcode.Newf(errcode.CodeVEOWorkDirInvalid, errcode.Fatal,
			moduleName, "Construct", "working directory %q is not a usable directory", workDir)
	}
	probe := filepath.Join(workDir, ".veo-write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return nil, errcode.Wrapf(errcode.CodeVEOWorkDirInvalid, errcode.Fatal,
			moduleName, "Construct", err, "working directory %q is not writable", workDir)
	}
	f.Close()
	os.Remove(probe)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errcode.New(errcode.CodeVEONameNil, errcode.Recoverable,
			moduleName, "Construct", "VEO name must not be empty")
	}
	if !strings.HasSuffix(name, ".veo") {
		name += ".veo"
	}

	if !digest.Supported(hashAlgo) {
		return nil, errcode.Newf(errcode.CodeVEOHashUnsupported, errcode.Fatal,
			moduleName, "Construct", "unsupported hash algorithm %q", string(hashAlgo))
	}

	stagingDir := filepath.Join(workDir, name)
	if _, err := os.Stat(stagingDir); err == nil {
		if err := os.RemoveAll(stagingDir); err != nil {
			return nil, errcode.Wrapf(errcode.CodeVEOStagingDirFailed, errcode.Recoverable,
				moduleName, "Construct", err, "cannot clear existing staging directory %s", stagingDir)
		}
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, errcode.Wrapf(errcode.CodeVEOStagingDirFailed, errcode.Recoverable,
			moduleName, "Construct", err, "cannot create staging directory %s", stagingDir)
	}

	a := &Assembler{
		ID:          uuid.New(),
		name:        name,
		stagingDir:  stagingDir,
		hashAlgo:    hashAlgo,
		templateDir: templateDir,
		roots:       make(map[string]ContentRoot),
		destSeen:    make(map[string]bool),
		retain:      retain,
		debug:       debug,
		logger:      logger,
	}

	if err := a.copyReadme(); err != nil {
		os.RemoveAll(stagingDir)
		return nil, err
	}

	content, err := veocontent.Start(filepath.Join(stagingDir, veosign.ContentManifestName), "3.0", hashAlgo)
	if err != nil {
		os.RemoveAll(stagingDir)
		return nil, err
	}
	history, err := veohistory.Start(filepath.Join(stagingDir, veosign.HistoryManifestName), "3.0")
	if err != nil {
		content.Abandon()
		os.RemoveAll(stagingDir)
		return nil, err
	}

	a.content = content
	a.history = history
	a.phase = PhaseBuilding

	a.logger.Info("veo started", "id", a.ID.String(), "name", name, "hash", string(hashAlgo))
	return a, nil
}

// OpenResign opens an existing staging directory in FINISHED_FILES with
// no content/history builders, for the auxiliary resign-mode
// constructor (spec.md §4.7). Stale signature descriptors are cleaned
// per the same paragraph.
func OpenResign(stagingDir string, hashAlgo digest.Algorithm, force bool, logger *slog.Logger) (*Assembler, error) {
	if logger == nil {
		logger = obslog.Discard()
	}
	info, err := os.Stat(stagingDir)
	if err != nil || !info.IsDir() {
		return nil, errcode.Newf(errcode.CodeVEOWorkDirInvalid, errcode.Fatal,
			moduleName, "OpenResign", "staging directory %q is not a usable directory", stagingDir)
	}

	a := &Assembler{
		ID:         uuid.New(),
		name:       filepath.Base(stagingDir),
		stagingDir: stagingDir,
		hashAlgo:   hashAlgo,
		roots:      make(map[string]ContentRoot),
		destSeen:   make(map[string]bool),
		phase:      PhaseFinishedFiles,
		logger:     logger,
	}

	if err := a.cleanStaleSignatures(force); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Assembler) cleanStaleSignatures(force bool) error {
	contentManifest := filepath.Join(a.stagingDir, veosign.ContentManifestName)
	mInfo, err := os.Stat(contentManifest)
	if err != nil {
		return errcode.Wrapf(errcode.CodeVEOStagingDirFailed, errcode.Recoverable,
			moduleName, "cleanStaleSignatures", err, "cannot stat %s", contentManifest)
	}

	entries, err := os.ReadDir(a.stagingDir)
	if err != nil {
		return errcode.Wrapf(errcode.CodeVEOStagingDirFailed, errcode.Recoverable,
			moduleName, "cleanStaleSignatures", err, "cannot read %s", a.stagingDir)
	}

	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "VEOHistorySignature") && strings.HasSuffix(name, ".xml"):
			os.Remove(filepath.Join(a.stagingDir, name))
		case strings.HasPrefix(name, "VEOContentSignature") && strings.HasSuffix(name, ".xml"):
			path := filepath.Join(a.stagingDir, name)
			if force {
				os.Remove(path)
				continue
			}
			if info, err := e.Info(); err == nil && info.ModTime().Before(mInfo.ModTime()) {
				os.Remove(path)
			}
		case strings.HasPrefix(name, "Report") && strings.HasSuffix(name, ".html"):
			os.Remove(filepath.Join(a.stagingDir, name))
		case name == "index.html" || name == "ReportStyle.css":
			os.Remove(filepath.Join(a.stagingDir, name))
		}
	}
	return nil
}

func (a *Assembler) copyReadme() error {
	if a.templateDir == "" {
		return nil
	}
	src := filepath.Join(a.templateDir, readmeName)
	in, err := os.Open(src)
	if err != nil {
		return errcode.Wrapf(errcode.CodeVEOReadmeMissing, errcode.Recoverable,
			moduleName, "copyReadme", err, "cannot open readme template %s", src)
	}
	defer in.Close()

	out, err := os.Create(filepath.Join(a.stagingDir, readmeName))
	if err != nil {
		return errcode.Wrapf(errcode.CodeVEOStagingDirFailed, errcode.Recoverable,
			moduleName, "copyReadme", err, "cannot create %s", readmeName)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errcode.Wrapf(errcode.CodeVEOStagingDirFailed, errcode.Recoverable,
			moduleName, "copyReadme", err, "cannot copy readme")
	}
	return nil
}

// StagingDir, Name and Phase expose the assembler's identity to the
// batch driver for logging and error reporting.
func (a *Assembler) StagingDir() string { return a.stagingDir }
func (a *Assembler) Name() string       { return a.name }
func (a *Assembler) State() Phase       { return a.phase }

func (a *Assembler) requireBuilding(method string) error {
	if a.phase != PhaseBuilding {
		return errcode.Newf(errcode.CodeVEOIllegalTransition, errcode.Recoverable,
			moduleName, method, "illegal call in phase %s", a.phase)
	}
	return nil
}

// RegisterContentRoot registers sourceDir as a content root, keyed by
// its final path segment. Two roots whose final segments collide
// cannot both be registered (spec.md §9 scenario F).
func (a *Assembler) RegisterContentRoot(sourceDir string) error {
	if err := a.requireBuilding("RegisterContentRoot"); err != nil {
		return err
	}
	seg := filepath.Base(filepath.Clean(sourceDir))
	if _, exists := a.roots[seg]; exists {
		return errcode.Newf(errcode.CodeVEODuplicateRoot, errcode.Recoverable,
			moduleName, "RegisterContentRoot", "a content root named %q is already registered", seg)
	}
	a.roots[seg] = ContentRoot{Name: seg, SourceDir: sourceDir}
	return nil
}

// ResolveRoot resolves a legacy short-form archive path ("root/sub/a")
// against a registered content root, returning the archive path
// (unchanged) and the resolved source path.
func (a *Assembler) ResolveRoot(shortPath string) (archivePath, sourcePath string, err error) {
	parts := strings.SplitN(shortPath, "/", 2)
	if len(parts) != 2 {
		return "", "", errcode.Newf(errcode.CodeVEOUnknownRoot, errcode.Recoverable,
			moduleName, "ResolveRoot", "path %q has no root segment", shortPath)
	}
	root, ok := a.roots[parts[0]]
	if !ok {
		return "", "", errcode.Newf(errcode.CodeVEOUnknownRoot, errcode.Recoverable,
			moduleName, "ResolveRoot", "unknown content root %q", parts[0])
	}
	return shortPath, filepath.Join(root.SourceDir, parts[1]), nil
}

// AddInformationObject auto-closes any open metadata package,
// information piece, and information object, then starts a new one.
func (a *Assembler) AddInformationObject(typeLabel string, depth int) error {
	if err := a.requireBuilding("AddInformationObject"); err != nil {
		return err
	}
	if err := a.closeToIOBoundary(); err != nil {
		return err
	}
	return a.content.StartIO(typeLabel, depth)
}

// closeToIOBoundary auto-closes whatever structure is currently open so
// the content builder lands in NotStarted or FinishedIO, ready for a
// fresh StartIO.
func (a *Assembler) closeToIOBoundary() error {
	switch a.content.State() {
	case veocontent.InMP:
		if err := a.content.FinishMP(); err != nil {
			return err
		}
		return a.content.FinishIO()
	case veocontent.SecondIPStg:
		if err := a.content.FinishIP(); err != nil {
			return err
		}
		return a.content.FinishIO()
	case veocontent.FirstIOStg, veocontent.SecondIOStg:
		return a.content.FinishIO()
	default:
		return nil
	}
}

// AddMetadataPackage auto-closes any currently open metadata package,
// then starts a new one.
func (a *Assembler) AddMetadataPackage(schemaURI, syntaxURI, resourceURI string) error {
	if err := a.requireBuilding("AddMetadataPackage"); err != nil {
		return err
	}
	if a.content.State() == veocontent.InMP {
		if err := a.content.FinishMP(); err != nil {
			return err
		}
	}
	return a.content.StartMP(schemaURI, syntaxURI, resourceURI)
}

// AddMetadataPackageFromTemplate starts a new metadata package and
// renders tpl into it in one step, matching the batch driver's MP
// command.
func (a *Assembler) AddMetadataPackageFromTemplate(schemaURI, syntaxURI, resourceURI string, tpl *template.Template, row []string, now time.Time) error {
	if err := a.AddMetadataPackage(schemaURI, syntaxURI, resourceURI); err != nil {
		return err
	}
	return a.ContinueMP(tpl, row, now)
}

// ContinueMP appends another template rendering to the currently open
// metadata package, without closing it, matching the batch driver's
// MPC command.
func (a *Assembler) ContinueMP(tpl *template.Template, row []string, now time.Time) error {
	if err := a.requireBuilding("ContinueMP"); err != nil {
		return err
	}
	return a.content.AppendTemplate(tpl, row, now)
}

// AppendLiteralToMP writes raw text into the open metadata package.
func (a *Assembler) AppendLiteralToMP(text string) error {
	if err := a.requireBuilding("AppendLiteralToMP"); err != nil {
		return err
	}
	return a.content.AppendLiteral(text)
}

// AddSimpleElementToMP emits one simple element into the open metadata
// package.
func (a *Assembler) AddSimpleElementToMP(tag string, attrs []xmlwriter.Attr, value string) error {
	if err := a.requireBuilding("AddSimpleElementToMP"); err != nil {
		return err
	}
	return a.content.EmitElement(tag, attrs, value)
}

// StartComplexElementInMP and EndComplexElementInMP let a caller build
// nested raw XML fragments inside a metadata package by hand.
func (a *Assembler) StartComplexElementInMP(tag string, attrs []xmlwriter.Attr) error {
	if err := a.requireBuilding("StartComplexElementInMP"); err != nil {
		return err
	}
	return a.content.OpenComplex(tag, attrs)
}

func (a *Assembler) EndComplexElementInMP(tag string) error {
	if err := a.requireBuilding("EndComplexElementInMP"); err != nil {
		return err
	}
	return a.content.CloseComplex(tag)
}

// AddInformationPiece auto-closes any open metadata package or prior
// information piece, then starts a new one.
func (a *Assembler) AddInformationPiece(label string) error {
	if err := a.requireBuilding("AddInformationPiece"); err != nil {
		return err
	}
	switch a.content.State() {
	case veocontent.InMP:
		if err := a.content.FinishMP(); err != nil {
			return err
		}
	case veocontent.SecondIPStg:
		if err := a.content.FinishIP(); err != nil {
			return err
		}
	}
	return a.content.StartIP(label)
}

// AddContentFile registers one content file, hashing it into the open
// information piece and recording it for inclusion at finalisation
// time. Its archive-relative destination must be unique within the VEO.
func (a *Assembler) AddContentFile(archivePath, sourcePath string) error {
	if err := a.requireBuilding("AddContentFile"); err != nil {
		return err
	}
	if a.destSeen[archivePath] {
		return errcode.Newf(errcode.CodeVEODuplicateDestination, errcode.Recoverable,
			moduleName, "AddContentFile", "destination %q already registered", archivePath)
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return errcode.Wrapf(errcode.CodeContentSourceMissing, errcode.Recoverable,
			moduleName, "AddContentFile", err, "content source %s does not exist", sourcePath)
	}
	if err := a.content.AddContentFile(archivePath, sourcePath); err != nil {
		return err
	}
	a.destSeen[archivePath] = true
	a.external = append(a.external, ExternalFile{SourcePath: sourcePath, ArchivePath: archivePath})
	return nil
}

// AddContentFileViaRoot resolves shortPath against a registered content
// root before delegating to AddContentFile.
func (a *Assembler) AddContentFileViaRoot(shortPath string) error {
	archivePath, sourcePath, err := a.ResolveRoot(shortPath)
	if err != nil {
		return err
	}
	return a.AddContentFile(archivePath, sourcePath)
}

// AddEvent appends one history event. Illegal once files have been
// finished (spec.md §5's ordering guarantee).
func (a *Assembler) AddEvent(timestamp time.Time, eventType, initiator string, descriptions, errs []string) error {
	if a.phase != PhaseBuilding {
		return errcode.Newf(errcode.CodeVEOEventAfterFinish, errcode.Recoverable,
			moduleName, "AddEvent", "cannot add an event in phase %s", a.phase)
	}
	return a.history.AddEvent(timestamp, eventType, initiator, descriptions, errs)
}

// FinishFiles auto-closes any remaining open structure, then closes
// both manifests. Per spec.md §4.7 step 5.
func (a *Assembler) FinishFiles() error {
	if err := a.requireBuilding("FinishFiles"); err != nil {
		return err
	}
	if err := a.closeToIOBoundary(); err != nil {
		return err
	}
	if err := a.content.Close(); err != nil {
		return err
	}
	if err := a.history.Close(); err != nil {
		return err
	}
	a.phase = PhaseFinishedFiles
	a.logger.Info("veo files finished", "id", a.ID.String(), "name", a.name)
	return nil
}

// Sign invokes the signature builder over both manifests for identity.
// May be called repeatedly to attach multiple signatures (spec.md §4.7
// step 6).
func (a *Assembler) Sign(identity *signer.Identity, now time.Time) error {
	if a.phase != PhaseFinishedFiles && a.phase != PhaseSigned {
		return errcode.Newf(errcode.CodeVEOIllegalTransition, errcode.Recoverable,
			moduleName, "Sign", "cannot sign in phase %s", a.phase)
	}
	if _, err := veosign.Sign(a.stagingDir, veosign.ContentManifestName, identity, a.hashAlgo, now); err != nil {
		return err
	}
	if _, err := veosign.Sign(a.stagingDir, veosign.HistoryManifestName, identity, a.hashAlgo, now); err != nil {
		return err
	}
	a.signedCount++
	a.phase = PhaseSigned
	a.logger.Info("veo signed", "id", a.ID.String(), "name", a.name, "signer", identity.Subject, "count", a.signedCount)
	return nil
}

// Finalise writes the ZIP archive to outputDir and, unless retain is
// set, deletes the staging directory. Returns the archive's path. Per
// spec.md §4.7 step 7.
func (a *Assembler) Finalise(outputDir string) (string, error) {
	if a.phase != PhaseFinishedFiles && a.phase != PhaseSigned {
		return "", errcode.Newf(errcode.CodeVEOIllegalTransition, errcode.Recoverable,
			moduleName, "Finalise", "cannot finalise in phase %s", a.phase)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", errcode.Wrapf(errcode.CodeVEOZipFailed, errcode.Recoverable,
			moduleName, "Finalise", err, "cannot create output directory %s", outputDir)
	}

	zipPath := filepath.Join(outputDir, zipName(a.name))
	if err := writeArchive(zipPath, a.stagingDir, a.external); err != nil {
		return "", err
	}

	if !a.retain {
		os.RemoveAll(a.stagingDir)
	}
	a.phase = PhaseFinished
	a.logger.Info("veo finalised", "id", a.ID.String(), "name", a.name, "archive", zipPath)
	return zipPath, nil
}

// Abandon releases both manifest builders and removes the staging
// directory unless the debug flag is set, used when a line-level
// failure aborts the current VEO (spec.md §7 policy).
func (a *Assembler) Abandon() error {
	if a.content != nil {
		a.content.Abandon()
	}
	if a.history != nil {
		a.history.Abandon()
	}
	if !a.debug {
		os.RemoveAll(a.stagingDir)
	}
	a.logger.Warn("veo abandoned", "id", a.ID.String(), "name", a.name)
	return nil
}

// zipName reproduces the source's archive-naming quirk exactly (spec.md
// §9 open question (c)): append ".veo.zip" unless the staged directory
// name already ends in ".veo", in which case only ".zip" is appended.
func zipName(stagingName string) string {
	if strings.HasSuffix(stagingName, ".veo") {
		return stagingName + ".zip"
	}
	return stagingName + ".veo.zip"
}

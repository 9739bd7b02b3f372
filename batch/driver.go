// Package batch reads a tab-separated control script and drives one
// VEO assembler per BV/VEO record, per spec.md §4.8.
package batch

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/errcode"
	"github.com/vers-project/veobuilder/obslog"
	"github.com/vers-project/veobuilder/pathres"
	"github.com/vers-project/veobuilder/signer"
	"github.com/vers-project/veobuilder/template"
	"github.com/vers-project/veobuilder/veo"
	"github.com/vers-project/veobuilder/veocontent"
)

const moduleName = "batch"

const timestampLayout = "2006-01-02T15:04:05Z07:00"

// descriptionsErrorsSeparator is the literal token that splits the E
// command's description list from its error list.
const descriptionsErrorsSeparator = "$$"

// Config configures one driver run. HashAlgo and Signers may be
// overridden by HASH/PFX directives up until the first BV; Signers is
// copied, never mutated in place.
type Config struct {
	WorkDir     string
	TemplateDir string
	OutputDir   string
	HashAlgo    digest.Algorithm
	Signers     []*signer.Identity
	Encoding    string
	Retain      bool
	Debug       bool
	Logger      *slog.Logger
}

// Driver executes one control script.
type Driver struct {
	cfg       Config
	scriptDir string
	logger    *slog.Logger

	hashAlgo digest.Algorithm
	signers  []*signer.Identity
	seenBV   bool

	current  *veo.Assembler
	skipping bool

	templateCache map[string]*template.Template
}

// New builds a driver from cfg.
func New(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = obslog.Discard()
	}
	signers := make([]*signer.Identity, len(cfg.Signers))
	copy(signers, cfg.Signers)
	return &Driver{
		cfg:           cfg,
		logger:        logger,
		hashAlgo:      cfg.HashAlgo,
		signers:       signers,
		templateCache: make(map[string]*template.Template),
	}
}

// Run reads scriptPath line by line and dispatches each command. It
// returns the first fatal error encountered; recoverable errors are
// logged and only abandon the in-flight VEO.
func (d *Driver) Run(scriptPath string) error {
	d.scriptDir = filepath.Dir(scriptPath)

	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		return errcode.Wrapf(errcode.CodeBatchScriptUnreadable, errcode.Fatal,
			moduleName, "Run", err, "cannot read control script %s", scriptPath)
	}

	enc, err := resolveEncoding(d.cfg.Encoding)
	if err != nil {
		return err
	}
	text, err := decode(raw, enc)
	if err != nil {
		return err
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lineNum := i + 1
		line = strings.TrimRight(line, "\r")
		tokens := strings.Split(line, "\t")
		if len(tokens) == 0 || strings.TrimSpace(tokens[0]) == "" {
			continue
		}

		cmd := strings.ToUpper(strings.TrimSpace(tokens[0]))
		if cmd == "END" {
			d.finishCurrentVEO(lineNum)
			return nil
		}

		if d.skipping {
			if cmd == "BV" || cmd == "VEO" {
				d.skipping = false
			} else {
				continue
			}
		}

		if err := d.dispatch(cmd, tokens, lineNum); err != nil {
			if !d.handleError(err, lineNum) {
				return err
			}
		}
	}

	d.finishCurrentVEO(len(lines))
	return nil
}

// handleError classifies err: fatal errors are returned to the caller
// (false means "abort the batch"); recoverable errors are logged and
// the in-flight VEO is abandoned, after which the driver scans forward
// to the next BV/VEO (true means "keep going").
func (d *Driver) handleError(err error, lineNum int) bool {
	e, ok := errcode.As(err)
	if !ok || !e.Recoverable() {
		d.logger.Error("fatal error, aborting batch", "line", lineNum, "error", err)
		return false
	}
	d.logger.Warn("recoverable error, abandoning current VEO", "line", lineNum, "error", err)
	if d.current != nil {
		d.current.Abandon()
		d.current = nil
	}
	d.skipping = true
	return true
}

func (d *Driver) dispatch(cmd string, tokens []string, lineNum int) error {
	switch cmd {
	case "!":
		d.logger.Info("comment", "line", lineNum, "text", strings.Join(tokens[1:], "\t"))
		return nil
	case "HASH":
		return d.cmdHash(tokens)
	case "PFX":
		return d.cmdPFX(tokens)
	case "BV":
		return d.cmdBV(tokens, lineNum)
	case "AC":
		return d.cmdAC(tokens)
	case "IO":
		return d.cmdIO(tokens)
	case "MP":
		return d.cmdMP(tokens)
	case "MPC":
		return d.cmdMPC(tokens)
	case "IP":
		return d.cmdIP(tokens)
	case "E":
		return d.cmdEvent(tokens)
	case "VEO":
		return d.cmdVEOShorthand(tokens, lineNum)
	default:
		return errcode.Newf(errcode.CodeBatchUnknownCommand, errcode.Recoverable,
			moduleName, "dispatch", "unknown command %q", cmd)
	}
}

func (d *Driver) requireBeforeFirstBV(method string) error {
	if d.seenBV {
		return errcode.Newf(errcode.CodeBatchCommandAfterFirstBV, errcode.Fatal,
			moduleName, method, "%s is only valid before the first BV", method)
	}
	return nil
}

func (d *Driver) requireActiveVEO(method string) error {
	if d.current == nil {
		return errcode.Newf(errcode.CodeBatchNoActiveVEO, errcode.Recoverable,
			moduleName, method, "%s requires a VEO already in flight", method)
	}
	return nil
}

func (d *Driver) cmdHash(tokens []string) error {
	if err := d.requireBeforeFirstBV("HASH"); err != nil {
		return err
	}
	if len(tokens) < 2 {
		return errcode.New(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "cmdHash", "HASH requires an algorithm argument")
	}
	d.hashAlgo = digest.Algorithm(strings.TrimSpace(tokens[1]))
	return nil
}

func (d *Driver) cmdPFX(tokens []string) error {
	if err := d.requireBeforeFirstBV("PFX"); err != nil {
		return err
	}
	if len(tokens) < 3 {
		return errcode.New(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "cmdPFX", "PFX requires a path and a password")
	}
	path, err := pathres.Resolve(d.scriptDir, tokens[1])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errcode.Wrapf(errcode.CodeBatchFileNotFound, errcode.Recoverable,
			moduleName, "cmdPFX", err, "cannot read PFX file %s", path)
	}
	identity, err := signer.FromPKCS12(data, tokens[2])
	if err != nil {
		return err
	}
	d.signers = append(d.signers, identity)
	return nil
}

func (d *Driver) cmdBV(tokens []string, lineNum int) error {
	if len(tokens) < 2 {
		return errcode.New(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "cmdBV", "BV requires a VEO name")
	}
	d.finishCurrentVEO(lineNum)
	d.seenBV = true

	a, err := veo.Construct(d.cfg.WorkDir, tokens[1], d.cfg.TemplateDir, d.hashAlgo, d.cfg.Retain, d.cfg.Debug, d.logger)
	if err != nil {
		return err
	}
	d.current = a
	return nil
}

// finishCurrentVEO best-effort finishes, signs and finalises whatever
// VEO is in flight. Failures here are logged but do not themselves
// abort the batch; the next BV/VEO always gets a fresh start.
func (d *Driver) finishCurrentVEO(lineNum int) {
	if d.current == nil {
		return
	}
	a := d.current
	d.current = nil

	if err := a.FinishFiles(); err != nil {
		d.logger.Warn("could not finish VEO files", "line", lineNum, "veo", a.Name(), "error", err)
		a.Abandon()
		return
	}
	for _, id := range d.signers {
		if err := a.Sign(id, time.Now()); err != nil {
			d.logger.Warn("could not sign VEO", "line", lineNum, "veo", a.Name(), "error", err)
			a.Abandon()
			return
		}
	}
	if _, err := a.Finalise(d.cfg.OutputDir); err != nil {
		d.logger.Warn("could not finalise VEO", "line", lineNum, "veo", a.Name(), "error", err)
	}
}

func (d *Driver) cmdAC(tokens []string) error {
	if err := d.requireActiveVEO("AC"); err != nil {
		return err
	}
	if len(tokens) < 2 {
		return errcode.New(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "cmdAC", "AC requires at least one directory")
	}
	for _, tok := range tokens[1:] {
		dir, err := pathres.Resolve(d.scriptDir, tok)
		if err != nil {
			return err
		}
		if err := d.current.RegisterContentRoot(dir); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) cmdIO(tokens []string) error {
	if err := d.requireActiveVEO("IO"); err != nil {
		return err
	}
	if len(tokens) < 2 {
		return errcode.New(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "cmdIO", "IO requires a type argument")
	}
	depth := 0
	if len(tokens) >= 3 && strings.TrimSpace(tokens[2]) != "" {
		v, err := strconv.Atoi(strings.TrimSpace(tokens[2]))
		if err != nil {
			return errcode.Wrapf(errcode.CodeBatchMissingArgs, errcode.Recoverable,
				moduleName, "cmdIO", err, "non-integer depth %q", tokens[2])
		}
		depth = v
	}
	return d.current.AddInformationObject(tokens[1], depth)
}

// loadTemplate resolves and parses (with caching) the template named by
// token, relative to the control script's directory.
func (d *Driver) loadTemplate(token string) (*template.Template, error) {
	path, err := pathres.Resolve(d.scriptDir, token)
	if err != nil {
		return nil, err
	}
	if tpl, ok := d.templateCache[path]; ok {
		return tpl, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errcode.Wrapf(errcode.CodeBatchFileNotFound, errcode.Recoverable,
			moduleName, "loadTemplate", err, "cannot read template %s", path)
	}
	tpl, err := template.Parse(string(raw), d.logger)
	if err != nil {
		return nil, err
	}
	d.templateCache[path] = tpl
	return tpl, nil
}

func (d *Driver) cmdMP(tokens []string) error {
	if err := d.requireActiveVEO("MP"); err != nil {
		return err
	}
	if len(tokens) < 2 {
		return errcode.New(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "cmdMP", "MP requires a template argument")
	}
	tpl, err := d.loadTemplate(tokens[1])
	if err != nil {
		return err
	}
	resourceURI := ""
	if tpl.SyntaxURI == veocontent.RDFSyntaxURI && len(tokens) > 2 {
		resourceURI = tokens[2]
	}
	return d.current.AddMetadataPackageFromTemplate(tpl.SchemaURI, tpl.SyntaxURI, resourceURI, tpl, tokens, time.Now())
}

func (d *Driver) cmdMPC(tokens []string) error {
	if err := d.requireActiveVEO("MPC"); err != nil {
		return err
	}
	if len(tokens) < 2 {
		return errcode.New(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "cmdMPC", "MPC requires a template argument")
	}
	tpl, err := d.loadTemplate(tokens[1])
	if err != nil {
		return err
	}
	return d.current.ContinueMP(tpl, tokens, time.Now())
}

// isRegisteredFile reports whether token resolves, via the current
// VEO's registered content roots, to an existing file.
func (d *Driver) isRegisteredFile(token string) bool {
	if d.current == nil {
		return false
	}
	_, src, err := d.current.ResolveRoot(token)
	if err != nil {
		return false
	}
	return pathres.Exists(src)
}

func (d *Driver) cmdIP(tokens []string) error {
	if err := d.requireActiveVEO("IP"); err != nil {
		return err
	}
	rest := tokens[1:]
	label := ""
	files := rest
	if len(rest) > 0 && !d.isRegisteredFile(strings.TrimSpace(rest[0])) {
		label = rest[0]
		files = rest[1:]
	}
	if err := d.current.AddInformationPiece(label); err != nil {
		return err
	}
	for _, f := range files {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := d.current.AddContentFileViaRoot(strings.TrimSpace(f)); err != nil {
			return err
		}
	}
	return nil
}

// splitOnSeparator splits tokens at the first literal "$$" token,
// returning (before, after).
func splitOnSeparator(tokens []string) ([]string, []string) {
	for i, t := range tokens {
		if t == descriptionsErrorsSeparator {
			return tokens[:i], tokens[i+1:]
		}
	}
	return tokens, nil
}

func (d *Driver) cmdEvent(tokens []string) error {
	if err := d.requireActiveVEO("E"); err != nil {
		return err
	}
	if len(tokens) < 4 {
		return errcode.New(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "cmdEvent", "E requires timestamp, type and initiator")
	}
	ts, err := time.Parse(timestampLayout, strings.TrimSpace(tokens[1]))
	if err != nil {
		return errcode.Wrapf(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "cmdEvent", err, "unparsable timestamp %q", tokens[1])
	}
	eventType := tokens[2]
	initiator := tokens[3]
	descriptions, errs := splitOnSeparator(tokens[4:])
	return d.current.AddEvent(ts, eventType, initiator, descriptions, errs)
}

// cmdVEOShorthand implements the VEO command: one VEO, one IO, one MP
// from a template, one IP per file.
func (d *Driver) cmdVEOShorthand(tokens []string, lineNum int) error {
	if len(tokens) < 4 {
		return errcode.New(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "cmdVEOShorthand", "VEO requires name, label and template")
	}
	name, label, templateToken := tokens[1], tokens[2], tokens[3]
	_, files := splitOnSeparator(tokens[4:])

	d.finishCurrentVEO(lineNum)
	d.seenBV = true

	a, err := veo.Construct(d.cfg.WorkDir, name, d.cfg.TemplateDir, d.hashAlgo, d.cfg.Retain, d.cfg.Debug, d.logger)
	if err != nil {
		return err
	}
	d.current = a

	if err := a.AddInformationObject("Record", 0); err != nil {
		return err
	}

	tpl, err := d.loadTemplate(templateToken)
	if err != nil {
		return err
	}
	if err := a.AddMetadataPackageFromTemplate(tpl.SchemaURI, tpl.SyntaxURI, "", tpl, tokens, time.Now()); err != nil {
		return err
	}

	for _, f := range files {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := a.AddInformationPiece(label); err != nil {
			return err
		}
		if err := a.AddContentFileViaRoot(strings.TrimSpace(f)); err != nil {
			return err
		}
	}

	if err := a.FinishFiles(); err != nil {
		return err
	}
	for _, id := range d.signers {
		if err := a.Sign(id, time.Now()); err != nil {
			return err
		}
	}
	if _, err := a.Finalise(d.cfg.OutputDir); err != nil {
		return err
	}
	d.current = nil
	return nil
}

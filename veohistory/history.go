// Package veohistory streams the VEOHistory.xml manifest: a version
// token followed by zero or more event records, per spec.md §4.4.
package veohistory

import (
	"strings"
	"time"

	"github.com/vers-project/veobuilder/errcode"
	"github.com/vers-project/veobuilder/xmlwriter"
)

const moduleName = "veohistory"

const (
	defaultEventType  = "No event specified"
	defaultInitiator  = "No initiator specified"
	defaultDescription = "No event description specified"
)

const timestampLayout = "2006-01-02T15:04:05Z07:00"

// state is the builder's own small lifecycle: it only needs to reject
// operations once closed, unlike the content builder's richer machine.
type state int

const (
	open state = iota
	closed
)

// Builder streams VEOHistory.xml incrementally.
type Builder struct {
	w     *xmlwriter.Writer
	st    state
	path  string
}

// Start creates path, writes the XML prolog/root, and emits the version
// element.
func Start(path, version string) (*Builder, error) {
	w, err := xmlwriter.Start(path, "vers:VEOHistory")
	if err != nil {
		return nil, err
	}
	if err := w.EmitSimpleElement("vers:Version", nil, version); err != nil {
		return nil, wrapWrite("Start", err)
	}
	return &Builder{w: w, st: open, path: path}, nil
}

func wrapWrite(method string, err error) error {
	return errcode.Wrapf(errcode.CodeHistoryWriteFailed, errcode.Recoverable, moduleName, method, err, "write failed")
}

// AddEvent appends one <vers:Event> record. timestamp is required.
// A blank eventType/initiator is replaced by its sentinel. An empty
// descriptions list is replaced by a single sentinel description.
// errs may be nil or empty, in which case no <vers:Error> elements
// are emitted.
func (b *Builder) AddEvent(timestamp time.Time, eventType, initiator string, descriptions, errs []string) error {
	if b.st != open {
		return errcode.New(errcode.CodeHistoryIllegalTransition, errcode.Recoverable,
			moduleName, "AddEvent", "history manifest already closed")
	}
	if timestamp.IsZero() {
		return errcode.New(errcode.CodeHistoryNilTimestamp, errcode.Recoverable,
			moduleName, "AddEvent", "timestamp is required")
	}

	if strings.TrimSpace(eventType) == "" {
		eventType = defaultEventType
	}
	if strings.TrimSpace(initiator) == "" {
		initiator = defaultInitiator
	}
	if len(descriptions) == 0 {
		descriptions = []string{defaultDescription}
	}

	if err := b.w.EmitComplexOpen("vers:Event", nil); err != nil {
		return wrapWrite("AddEvent", err)
	}
	if err := b.w.EmitSimpleElement("vers:EventDateTime", nil, timestamp.Format(timestampLayout)); err != nil {
		return wrapWrite("AddEvent", err)
	}
	if err := b.w.EmitSimpleElement("vers:EventType", nil, eventType); err != nil {
		return wrapWrite("AddEvent", err)
	}
	if err := b.w.EmitSimpleElement("vers:Initiator", nil, initiator); err != nil {
		return wrapWrite("AddEvent", err)
	}
	for _, d := range descriptions {
		if err := b.w.EmitSimpleElement("vers:Description", nil, d); err != nil {
			return wrapWrite("AddEvent", err)
		}
	}
	for _, e := range errs {
		if err := b.w.EmitSimpleElement("vers:Error", nil, e); err != nil {
			return wrapWrite("AddEvent", err)
		}
	}
	if err := b.w.EmitComplexClose("vers:Event"); err != nil {
		return wrapWrite("AddEvent", err)
	}
	return nil
}

// Close emits the root closing tag and closes the file. It is an error
// to call Close twice.
func (b *Builder) Close() error {
	if b.st != open {
		return errcode.New(errcode.CodeHistoryIllegalTransition, errcode.Recoverable,
			moduleName, "Close", "history manifest already closed")
	}
	b.st = closed
	if err := b.w.End(); err != nil {
		return wrapWrite("Close", err)
	}
	return nil
}

// Abandon releases the underlying file without completing the document,
// used when the owning VEO is abandoned mid-build.
func (b *Builder) Abandon() error {
	if b.st == closed {
		return nil
	}
	b.st = closed
	return b.w.Abort()
}

// Path returns the manifest's file path, used by the signature builder.
func (b *Builder) Path() string { return b.path }

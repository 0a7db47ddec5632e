// Package deferer accumulates cleanup functions that must also run before
// log.Fatal. Deferred functions are skipped when os.Exit is called, but
// resource releases (drive locks, network bindings) have to happen anyway.
package deferer

import (
	"fmt"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// Deferer holds a stack of cleanup functions and an optional pointer to the
// caller's Deferer
type Deferer struct {
	caller *Deferer
	fns    []func()
	ran    bool
}

// NewDeferer returns a new Deferer with the optional caller set
func NewDeferer(d *Deferer) *Deferer {
	return &Deferer{
		caller: d,
		fns:    make([]func(), 0),
	}
}

// Defer adds a function to the cleanup stack
func (d *Deferer) Defer(f func()) {
	d.fns = append(d.fns, f)
}

// Run calls the cleanup functions in reverse order. Common usage is to call
// `defer d.Run()` right after creating the Deferer. Run is a no-op the
// second time.
func (d *Deferer) Run() {
	if d.ran {
		return
	}

	for i := len(d.fns) - 1; i >= 0; i-- {
		d.fns[i]()
	}
	d.ran = true
}

// Fatal runs all cleanup functions, walking up the caller chain, and then
// calls log.Fatal
func (d *Deferer) Fatal(v ...interface{}) {
	d.fatal()
	// Grab the original caller file and line number
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		log.Fatal(v...)
	} else {
		base := filepath.Base(file)
		args := []interface{}{interface{}(fmt.Sprintf("%s:%d: ", base, line))}
		log.Fatal(append(args, v...)...)
	}
}

// FatalWithFields accepts additional logging fields for the fatal log
func (d *Deferer) FatalWithFields(fields log.Fields, v ...interface{}) {
	d.fatal()
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		log.WithFields(fields).Fatal(v...)
	} else {
		fields["file"] = filepath.Base(file)
		fields["line"] = line
		log.WithFields(fields).Fatal(v...)
	}
}

func (d *Deferer) fatal() {
	d.Run()
	if d.caller != nil {
		d.caller.fatal()
	}
}

// Command veosignsvc loads a signer identity from a PKCS#12 store once
// and serves it over HTTP to remotesign clients, so the private key
// stays in this process. veobuild itself loads its signer from a local
// PFX file (-s/-p) and does not use the remotesign client.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/vers-project/veobuilder/obslog"
	"github.com/vers-project/veobuilder/remotesign"
	"github.com/vers-project/veobuilder/signer"
)

func main() {
	var (
		pfxPath string
		pfxPass string
		addr    string
		verbose bool
	)

	flag.StringVar(&pfxPath, "s", "", "Signer PKCS#12 (.pfx) path")
	flag.StringVar(&pfxPass, "p", "", "Signer PKCS#12 password")
	flag.StringVar(&addr, "listen", ":8443", "Listen address")
	flag.BoolVar(&verbose, "vv", false, "Verbose debug logging")
	flag.Parse()

	level := obslog.Quiet
	if verbose {
		level = obslog.Verbose
	}
	logger := obslog.New(os.Stderr, level)

	if pfxPath == "" {
		fmt.Fprintln(os.Stderr, "usage: veosignsvc -s <pfx> [-p <password>] [-listen <addr>]")
		os.Exit(1)
	}

	if pfxPass == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Enter PFX password: ")
		pwBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			logger.Error("failed to read password", "error", err)
			os.Exit(1)
		}
		pfxPass = string(pwBytes)
	}

	data, err := os.ReadFile(pfxPath)
	if err != nil {
		logger.Error("cannot read signer PFX", "path", pfxPath, "error", err)
		os.Exit(1)
	}
	identity, err := signer.FromPKCS12(data, pfxPass)
	if err != nil {
		logger.Error("cannot load signer PFX", "path", pfxPath, "error", err)
		os.Exit(1)
	}

	srv := &remotesign.Server{Identity: identity, Logger: logger}
	logger.Info("serving signer identity", "subject", identity.Subject, "listen", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

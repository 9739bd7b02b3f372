// Command veobuild reads a tab-separated control script and assembles
// the VEOs it describes, per spec.md §6's CLI surface.
package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/vers-project/veobuilder/batch"
	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/obslog"
	"github.com/vers-project/veobuilder/signer"
)

func main() {
	var (
		templateDir string
		controlFile string
		outputDir   string
		hashAlgo    string
		encoding    string
		pfxPath     string
		pfxPassword string
		chatty      bool
		verbose     bool
		debug       bool
	)

	flag.StringVar(&templateDir, "t", "", "Template directory (VEOReadme.txt and shared template files)")
	flag.StringVar(&controlFile, "c", "", "Control script path")
	flag.StringVar(&outputDir, "o", ".", "Output directory for finished .veo.zip archives")
	flag.StringVar(&hashAlgo, "ha", string(digest.SHA256), "Hash algorithm (SHA-1, SHA-256, SHA-384, SHA-512)")
	flag.StringVar(&encoding, "e", "", "Control-script character encoding (default: windows-1252)")
	flag.StringVar(&pfxPath, "s", "", "Default signer PKCS#12 (.pfx) path")
	flag.StringVar(&pfxPassword, "p", "", "Default signer PKCS#12 password")
	flag.BoolVar(&chatty, "v", false, "Chatty progress logging")
	flag.BoolVar(&verbose, "vv", false, "Verbose debug logging")
	flag.BoolVar(&debug, "d", false, "Debug mode: retain staging directories")
	flag.Parse()

	level := obslog.Quiet
	if verbose {
		level = obslog.Verbose
	} else if chatty {
		level = obslog.Chatty
	}
	logger := obslog.New(os.Stderr, level)
	workDir, err := os.MkdirTemp("", "veobuild-")
	if err != nil {
		logger.Error("cannot create working directory", "error", err)
		os.Exit(1)
	}
	defer os.RemoveAll(workDir)

	if controlFile == "" {
		fmt.Fprintln(os.Stderr, "usage: veobuild -c <control-script> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var signers []*signer.Identity
	if pfxPath != "" {
		if pfxPassword == "" && term.IsTerminal(int(syscall.Stdin)) {
			fmt.Fprint(os.Stderr, "Enter PFX password: ")
			pwBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				logger.Error("failed to read password", "error", err)
				os.Exit(1)
			}
			pfxPassword = string(pwBytes)
		}
		data, err := os.ReadFile(pfxPath)
		if err != nil {
			logger.Error("cannot read signer PFX", "path", pfxPath, "error", err)
			os.Exit(1)
		}
		identity, err := signer.FromPKCS12(data, pfxPassword)
		if err != nil {
			logger.Error("cannot load signer PFX", "path", pfxPath, "error", err)
			os.Exit(1)
		}
		signers = append(signers, identity)
	}

	cfg := batch.Config{
		WorkDir:     workDir,
		TemplateDir: templateDir,
		OutputDir:   outputDir,
		HashAlgo:    digest.Algorithm(hashAlgo),
		Signers:     signers,
		Encoding:    encoding,
		Retain:      debug,
		Debug:       debug,
		Logger:      logger,
	}

	d := batch.New(cfg)
	if err := d.Run(controlFile); err != nil {
		logger.Error("batch aborted", "error", err)
		os.Exit(1)
	}
	logger.Info("batch complete")
}

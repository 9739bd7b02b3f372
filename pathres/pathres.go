// Package pathres resolves the file-reference tokens that appear as
// batch-driver arguments (template names, PFX paths, content-root
// directories, content files) against the control script's own
// location, per spec.md §4.8.
package pathres

import (
	"os"
	"path/filepath"

	"github.com/vers-project/veobuilder/errcode"
)

const moduleName = "pathres"

// Resolve applies the control script's file-reference rule to token,
// relative to scriptDir (the directory containing the control script
// currently being read):
//   - a token starting with "." is relative to the process working
//     directory;
//   - an absolute token is taken as-is;
//   - otherwise it is resolved relative to scriptDir.
func Resolve(scriptDir, token string) (string, error) {
	if token == "" {
		return "", errcode.New(errcode.CodeBatchMissingArgs, errcode.Recoverable,
			moduleName, "Resolve", "file reference must not be empty")
	}
	if filepath.IsAbs(token) {
		return token, nil
	}
	if len(token) > 0 && token[0] == '.' {
		cwd, err := os.Getwd()
		if err != nil {
			return "", errcode.Wrapf(errcode.CodeBatchFileNotFound, errcode.Fatal,
				moduleName, "Resolve", err, "cannot determine working directory")
		}
		return filepath.Join(cwd, token), nil
	}
	return filepath.Join(scriptDir, token), nil
}

// Exists reports whether the resolved path exists and is not a
// directory; readability is not checked. Used by the IP command's
// registered-file heuristic
// ("if the first argument resolves to an existing file, there is no
// label").
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Package testutil holds small helpers shared by this module's test
// files, adapted from the teacher's build.TempDir.
package testutil

import (
	"os"
	"path/filepath"
)

// testingDir is the directory that contains all files and folders
// created during testing.
var testingDir = filepath.Join(os.TempDir(), "qserv-sub001Testing")

// TempDir joins the provided directories and prefixes them with the
// module's testing directory, removing any stale directory left over
// from a previous run.
func TempDir(dirs ...string) string {
	path := filepath.Join(testingDir, filepath.Join(dirs...))
	os.RemoveAll(path)
	return path
}

//go:build !unix

package invoke

import (
	"os"
	"os/exec"
)

func prepareCommand(*exec.Cmd) {}

func signaled(*os.ProcessState) bool { return false }

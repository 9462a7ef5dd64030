/*
Copyright 2023 ICS-FORTH.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// reexecSelf replaces the running process image with a fresh copy of
// itself, passing stateFile's descriptor through as --state-fd (spec.md
// §6, "SIGTERM initiates re-exec"). The descriptor must survive exec, so
// its FD_CLOEXEC flag is cleared first.
func reexecSelf(stateFile *os.File) error {
	fd := stateFile.Fd()

	if _, _, errno := syscall.Syscall(syscall.SYS_FCNTL, fd, uintptr(syscall.F_SETFD), 0); errno != 0 {
		return errors.Wrap(errno, "clear FD_CLOEXEC on re-exec state fd")
	}

	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "resolve executable path for re-exec")
	}

	argv := []string{self, "--restart", fmt.Sprintf("--state-fd=%d", fd)}
	if confDir != "" {
		argv = append(argv, "--confdir="+confDir)
	}

	return syscall.Exec(self, argv, os.Environ())
}

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

// Command initctl is the control-surface client: it dials the supervisor's
// unix socket and issues the operations spec.md §6/§4.7 name (Start, Stop,
// Restart, EmitEvent, the GetXxx query set), mirroring the teacher's
// kubectl-frisbee command shape (cobra root with one subcommand per
// operation) against job instances instead of Kubernetes test objects.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var socketPath string

// request/reply mirror internal/control's wire shape; initctl doesn't
// import internal/control directly so the binary stays independent of the
// supervisor's internal packages, same separation frisbee keeps between
// cmd/kubectl-frisbee and its controllers.
type request struct {
	Method string                 `json:"Method"`
	Args   map[string]interface{} `json:"Args"`
	Wait   bool                   `json:"Wait"`
}

type reply struct {
	Path string      `json:"Path"`
	Err  *replyError `json:"Err,omitempty"`
	Data interface{} `json:"Data,omitempty"`
}

type replyError struct {
	Tag     string `json:"Tag"`
	Message string `json:"Message"`
}

func call(method string, args map[string]interface{}, wait bool) (reply, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return reply{}, errors.Wrapf(err, "dial control socket %q", socketPath)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(request{Method: method, Args: args, Wait: wait}); err != nil {
		return reply{}, errors.Wrap(err, "send control request")
	}

	var r reply
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&r); err != nil {
		return reply{}, errors.Wrap(err, "read control reply")
	}

	if r.Err != nil {
		return r, errors.Errorf("%s: %s", r.Err.Tag, r.Err.Message)
	}

	return r, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "initctl",
		Short:         "Control client for initd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&socketPath, "control-socket", "/run/initd.sock", "unix socket initd is listening on")

	cmd.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newEmitCmd(),
		newListCmd(),
		newShowCmd(),
		newTailCmd(),
		newVersionCmd(),
	)

	return cmd
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	if err := newRootCmd().Execute(); err != nil {
		logrus.Error(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

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

// Command initd is the event-driven service supervisor: it owns the event
// queue, the job class registry, and the single-threaded main loop
// (spec.md §5).
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dimiro1/banner"
	"github.com/spf13/cobra"

	"github.com/carv-ics-forth/initd/internal/logging"
)

const bannerTemplate = `{{ .AnsiColor.BrightCyan }}
 _       _ _   _
(_)_ __ (_) |_| |
| | '_ \| | __| |
| | | | | | |_| |
|_|_| |_|_|\__|_|   supervisor
{{ .AnsiColor.Default }}`

var (
	confDir         string
	logDir          string
	noLog           bool
	noSessions      bool
	noStartupEvent  bool
	startupEvent    string
	restart         bool
	stateFD         int
	session         string
	debugLog        bool
	controlSocket   string
	grafanaURL      string
	grafanaWebhook  string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "initd",
		Short: "Event-driven service supervisor",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if restart {
				return
			}
			banner.Init(os.Stdout, true, true, strings.NewReader(bannerTemplate))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	cmd.Flags().StringVar(&confDir, "confdir", "/etc/init", "directory job class definitions are loaded from")
	cmd.Flags().StringVar(&logDir, "logdir", "/var/log/initd", "accepted but unused: process output tails are kept in memory only")
	cmd.Flags().BoolVar(&noLog, "no-log", false, "disable process output capture")
	cmd.Flags().BoolVar(&noSessions, "no-sessions", false, "disable chroot/user session support")
	cmd.Flags().BoolVar(&noStartupEvent, "no-startup-event", false, "do not emit the startup event")
	cmd.Flags().StringVar(&startupEvent, "startup-event", "startup", "name of the event emitted on initial start")
	cmd.Flags().BoolVar(&restart, "restart", false, "re-exec: restore state from --state-fd instead of starting fresh")
	cmd.Flags().IntVar(&stateFD, "state-fd", -1, "file descriptor to read/write persisted state across re-exec")
	cmd.Flags().StringVar(&session, "session", "", "session name this instance serves (empty == global)")
	cmd.Flags().BoolVar(&debugLog, "debug", false, "verbose logging")
	cmd.Flags().StringVar(&controlSocket, "control-socket", "/run/initd.sock", "unix socket the control surface listens on")
	cmd.Flags().StringVar(&grafanaURL, "grafana-url", "", "Grafana API base URL to annotate on job phase changes; empty disables telemetry")
	cmd.Flags().StringVar(&grafanaWebhook, "grafana-webhook-addr", "", "address to listen on for inbound Grafana alert webhooks; empty disables")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	log := logging.New(debugLog)

	sup, err := newSupervisor(log, grafanaURL, grafanaWebhook)
	if err != nil {
		return err
	}

	if restart {
		if err := sup.restoreFromStateFD(stateFD); err != nil {
			return err
		}
	} else if !noStartupEvent {
		sup.emitStartup(startupEvent)
	}

	return sup.runLoop()
}

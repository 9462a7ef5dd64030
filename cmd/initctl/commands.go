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
	"encoding/json"
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var env []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "start <class>",
		Short: "Set a job class's goal to Start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := call("Start", map[string]interface{}{"Name": args[0], "Env": env}, wait)
			if err != nil {
				return err
			}

			color.Green.Println(r.Path)

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&env, "env", nil, "KEY=VALUE environment entries")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the instance reaches a rest state")

	return cmd
}

func newStopCmd() *cobra.Command {
	var env []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "stop <path>",
		Short: "Set an instance's goal to Stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call("Stop", map[string]interface{}{"Path": args[0], "Env": env}, wait)
			if err != nil {
				return err
			}

			color.Yellow.Println("stopped")

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&env, "env", nil, "KEY=VALUE environment entries")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the instance reaches a rest state")

	return cmd
}

func newRestartCmd() *cobra.Command {
	var env []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "restart <path>",
		Short: "Stop then start an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := call("Restart", map[string]interface{}{"Path": args[0], "Env": env}, wait)
			if err != nil {
				return err
			}

			color.Green.Println(r.Path)

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&env, "env", nil, "KEY=VALUE environment entries")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the instance reaches a rest state")

	return cmd
}

func newEmitCmd() *cobra.Command {
	var env []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "emit <event-name>",
		Short: "Enqueue a named event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call("EmitEvent", map[string]interface{}{"Name": args[0], "Env": env}, wait)
			if err != nil {
				return err
			}

			color.Green.Println("ok")

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&env, "env", nil, "KEY=VALUE environment entries")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the event finishes")

	return cmd
}

func newListCmd() *cobra.Command {
	var class string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances, or classes if --class is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			if class == "" {
				r, err := call("GetAllJobs", nil, false)
				if err != nil {
					return err
				}

				names := decodeStrings(r.Data)

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Class"})

				for _, n := range names {
					table.Append([]string{n})
				}

				table.Render()

				return nil
			}

			r, err := call("GetAllInstances", map[string]interface{}{"Class": class}, false)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Instance"})

			for _, p := range decodeStrings(r.Data) {
				table.Append([]string{p})
			}

			table.Render()

			return nil
		},
	}

	cmd.Flags().StringVar(&class, "class", "", "restrict listing to one job class's instances")

	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Describe one instance's name/goal/state/processes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := call("Describe", map[string]interface{}{"Path": args[0]}, false)
			if err != nil {
				return err
			}

			var inst struct {
				Path, Name, Goal, State string
				Processes               []struct {
					Role int
					PID  int
				}
			}

			if err := remarshal(r.Data, &inst); err != nil {
				return err
			}

			fmt.Printf("Path:  %s\n", inst.Path)
			fmt.Printf("Name:  %s\n", inst.Name)
			fmt.Printf("Goal:  %s\n", inst.Goal)
			fmt.Printf("State: %s\n", stateColor(inst.State))

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Process", "PID"})

			roles := []string{"pre-start", "main", "post-start", "pre-stop", "post-stop"}
			for _, p := range inst.Processes {
				role := fmt.Sprintf("%d", p.Role)
				if p.Role >= 0 && p.Role < len(roles) {
					role = roles[p.Role]
				}
				table.Append([]string{role, fmt.Sprintf("%d", p.PID)})
			}

			table.Render()

			return nil
		},
	}

	return cmd
}

func newTailCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "tail <path>",
		Short: "Print a process role's captured stdout/stderr tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := call("GetProcessTail", map[string]interface{}{"Path": args[0], "Role": role}, false)
			if err != nil {
				return err
			}

			var tail string
			if err := remarshal(r.Data, &tail); err != nil {
				return err
			}

			fmt.Print(tail)

			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "main", "process role to tail (pre-start, main, post-start, pre-stop, post-stop)")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the supervisor's build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := call("GetVersion", nil, false)
			if err != nil {
				return err
			}

			fmt.Println(r.Data)

			return nil
		},
	}
}

// stateColor colors a job state the way upstart's `initctl list` and the
// teacher's `kubectl-frisbee get` commands both color status by health:
// green at rest, yellow in transit, red failed-adjacent.
func stateColor(state string) string {
	switch state {
	case "running", "waiting":
		return color.Green.Sprint(state)
	case "killed":
		return color.Red.Sprint(state)
	default:
		return color.Yellow.Sprint(state)
	}
}

// decodeStrings recovers a []string from the loosely-typed Data field a
// JSON round-trip leaves as []interface{}.
func decodeStrings(data interface{}) []string {
	items, ok := data.([]interface{})
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, v := range items {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}

	return out
}

// remarshal round-trips data (already decoded once into interface{} by
// encoding/json) through JSON again into a concrete struct — simplest way
// to recover Instance's shape without initctl importing internal/engine.
func remarshal(data interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, out)
}


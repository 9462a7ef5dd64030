// Package telemetry adapts the teacher's Grafana annotation pattern
// (controllers/common/lifecycle/annotations.go's PointAnnotation/
// RangeAnnotation) to job lifecycle events instead of Kubernetes object
// lifecycle, and adds an inbound half translating Grafana alert webhooks
// into emitted events (SPEC_FULL.md, Part C).
package telemetry

import (
	"fmt"

	"github.com/grafana-tools/sdk"
)

// Annotator marks points and ranges on a Grafana dashboard for job
// lifecycle transitions, mirroring the teacher's Annotator interface
// (Add/Delete become Start/Stop to match job vocabulary instead of object
// vocabulary).
type Annotator interface {
	Start(path string, when int64)
	Stop(path string, when int64, failed bool)
}

// PointAnnotator pushes a single annotation per job start/stop, the
// teacher's PointAnnotation shape.
type PointAnnotator struct {
	client *sdk.Client
}

// NewPointAnnotator wraps an already-configured Grafana API client. A nil
// client makes every call a no-op, matching the teacher's
// "if common.Globals.Annotator != nil" guard.
func NewPointAnnotator(client *sdk.Client) *PointAnnotator {
	return &PointAnnotator{client: client}
}

func (a *PointAnnotator) Start(path string, when int64) {
	if a.client == nil {
		return
	}

	ga := sdk.CreateAnnotationRequest{
		Time: when * 1000,
		Tags: []string{"start"},
		Text: fmt.Sprintf("job started: %s", path),
	}

	_, _ = a.client.CreateAnnotation(ga)
}

func (a *PointAnnotator) Stop(path string, when int64, failed bool) {
	if a.client == nil {
		return
	}

	tag := "stop"
	if failed {
		tag = "failed"
	}

	ga := sdk.CreateAnnotationRequest{
		Time: when * 1000,
		Tags: []string{tag},
		Text: fmt.Sprintf("job stopped: %s (failed=%v)", path, failed),
	}

	_, _ = a.client.CreateAnnotation(ga)
}

// RangeAnnotator brackets a job's running interval with a single
// open-then-patched annotation, the teacher's RangeAnnotation shape
// (controllers/common/lifecycle/annotations.go).
type RangeAnnotator struct {
	client *sdk.Client
	open   map[string]uint
}

func NewRangeAnnotator(client *sdk.Client) *RangeAnnotator {
	return &RangeAnnotator{client: client, open: make(map[string]uint)}
}

func (a *RangeAnnotator) Start(path string, when int64) {
	if a.client == nil {
		return
	}

	ga := sdk.CreateAnnotationRequest{
		Time:    when * 1000,
		TimeEnd: 0,
		Tags:    []string{"running"},
		Text:    fmt.Sprintf("job running: %s", path),
	}

	id, err := a.client.CreateAnnotation(ga)
	if err != nil {
		return
	}

	a.open[path] = uint(id)
}

func (a *RangeAnnotator) Stop(path string, when int64, failed bool) {
	if a.client == nil {
		return
	}

	id, ok := a.open[path]
	if !ok {
		return
	}

	delete(a.open, path)

	tag := "running"
	if failed {
		tag = "failed"
	}

	ga := sdk.PatchAnnotationRequest{
		TimeEnd: when * 1000,
		Tags:    []string{tag},
		Text:    fmt.Sprintf("job stopped: %s (failed=%v)", path, failed),
	}

	_, _ = a.client.PatchAnnotation(id, ga)
}

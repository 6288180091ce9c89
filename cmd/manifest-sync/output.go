package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/yuya-takeyama/manifest-sync/internal/logging"
	"github.com/yuya-takeyama/manifest-sync/pkg/controller"
	"github.com/yuya-takeyama/manifest-sync/pkg/executor"
	"github.com/yuya-takeyama/manifest-sync/pkg/planner"
	"github.com/yuya-takeyama/manifest-sync/pkg/progress"
	"gopkg.in/yaml.v3"
)

// PlanResult represents the planned downloads before execution
type PlanResult struct {
	Group       string      `json:"group" yaml:"group"`
	Kind        string      `json:"kind" yaml:"kind"`
	SelfUpdate  bool        `json:"self_update" yaml:"self_update"`
	Directories []string    `json:"directories,omitempty" yaml:"directories,omitempty"`
	Files       []PlanFile  `json:"files" yaml:"files"`
	Summary     PlanSummary `json:"summary" yaml:"summary"`
}

type PlanFile struct {
	Action string `json:"action" yaml:"action"` // "download" or "install" for an already staged file
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Size   int64  `json:"size" yaml:"size"`
	Hash   string `json:"hash" yaml:"hash"`
	Reason string `json:"reason" yaml:"reason"`
}

type PlanSummary struct {
	Download int   `json:"download" yaml:"download"`
	Staged   int   `json:"staged,omitempty" yaml:"staged,omitempty"`
	Bytes    int64 `json:"bytes" yaml:"bytes"`
}

type planFormat int

const (
	formatJSON planFormat = iota
	formatYAML
)

func buildPlanResult(kind controller.PlanKind, plan *planner.Plan) PlanResult {
	result := PlanResult{
		Kind:  kind.String(),
		Files: []PlanFile{},
	}
	if plan == nil {
		return result
	}

	result.Group = plan.Group
	result.SelfUpdate = plan.SelfUpdate
	result.Directories = plan.Directories
	for _, item := range plan.Items {
		result.Files = append(result.Files, PlanFile{
			Action: "download",
			Source: item.Source,
			Target: item.Destination,
			Size:   item.BytesExpected,
			Hash:   item.Entry.ExpectedHash,
			Reason: item.Reason,
		})
	}
	for _, item := range plan.Staged {
		result.Files = append(result.Files, PlanFile{
			Action: "install",
			Source: item.Destination,
			Target: item.Entry.TargetPath,
			Size:   item.BytesExpected,
			Hash:   item.Entry.ExpectedHash,
			Reason: item.Reason,
		})
	}
	result.Summary = PlanSummary{Download: len(plan.Items), Staged: len(plan.Staged), Bytes: plan.TotalBytes}
	return result
}

func writePlanFile(path string, result PlanResult, format planFormat) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case formatYAML:
		data, err = yaml.Marshal(result)
	default:
		data, err = json.MarshalIndent(result, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

func printPlan(w io.Writer, result PlanResult) {
	for _, f := range result.Files {
		fmt.Fprintf(w, "(plan) %s: %s to %s (%s, %s)\n", f.Action, f.Source, f.Target, logging.FormatBytes(f.Size), f.Reason)
	}
}

// cliObserver prints progress to a terminal and keeps the last download
// result for the summary.
type cliObserver struct {
	controller.NopObserver
	w           io.Writer
	quiet       bool
	lastPercent int
	result      *executor.Result
}

func newCLIObserver(w io.Writer, quiet bool) *cliObserver {
	return &cliObserver{w: w, quiet: quiet, lastPercent: -1}
}

func (o *cliObserver) Progress(p progress.Progress) {
	if o.quiet {
		return
	}
	pct := p.Percent()
	if pct == o.lastPercent {
		return
	}
	o.lastPercent = pct
	fmt.Fprintf(o.w, "\r%3d%% %d/%d files, %s of %s", pct,
		p.ItemsCompleted, p.ItemsTotal, logging.FormatBytes(p.BytesCompleted), logging.FormatBytes(p.BytesTotal))
}

func (o *cliObserver) ItemFailed(err *executor.ItemError) {
	fmt.Fprintf(o.w, "\nfailed: %s: %v\n", err.Item.Entry.TargetPath, err.Err)
}

func (o *cliObserver) StateChanged(from, to controller.State) {
	if to == controller.Downloading {
		o.lastPercent = -1
	}
	if o.quiet {
		return
	}
	if from == controller.Downloading && o.lastPercent >= 0 {
		fmt.Fprintln(o.w)
	}
	if to == controller.Finalizing {
		fmt.Fprintln(o.w, "Installing launcher update and restarting...")
	}
}

func (o *cliObserver) CycleComplete(outcome controller.Outcome) {
	o.result = outcome.Result
}

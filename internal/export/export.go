package export

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"calreport/internal/capture"
	appLog "calreport/internal/log"
	"calreport/internal/model"
	"calreport/internal/pdf"
	"calreport/internal/report"
)

// FileName is the name every generated report is saved under.
const FileName = "calendar-events-report.pdf"

// Stage names the step of an export cycle that failed.
type Stage string

const (
	StageBuild    Stage = "build"
	StageCapture  Stage = "capture"
	StageAssemble Stage = "assemble"
	StageSave     Stage = "save"
)

// Exporter runs the build -> capture -> assemble -> save cycle.
//
// An Exporter holds no per-cycle state; overlapping calls run fully
// independent cycles and each ends in its own Save.
type Exporter struct {
	builder   *report.Builder
	capturer  capture.Capturer
	assembler *pdf.Assembler
	saver     Saver
}

func New(builder *report.Builder, capturer capture.Capturer, assembler *pdf.Assembler, saver Saver) *Exporter {
	return &Exporter{
		builder:   builder,
		capturer:  capturer,
		assembler: assembler,
		saver:     saver,
	}
}

// Run executes one export cycle and returns the first failure.
// Nothing is saved unless every earlier stage succeeded.
func (e *Exporter) Run(ctx context.Context, events []model.Event, filter model.Filter) error {
	start := time.Now()

	view, err := e.builder.Build(events, filter)
	if err != nil {
		return stageErr(err, StageBuild)
	}

	snapshot, err := e.capturer.Capture(ctx, view.HTML, view.Selector)
	if err != nil {
		return stageErr(err, StageCapture)
	}

	var doc bytes.Buffer
	if err := e.assembler.Assemble(&doc, snapshot, view.Filter); err != nil {
		return stageErr(err, StageAssemble)
	}

	if err := e.saver.Save(ctx, FileName, doc.Bytes()); err != nil {
		return stageErr(err, StageSave)
	}

	appLog.Info("report exported",
		"file", FileName,
		"rows", len(view.Rows),
		"bytes", doc.Len(),
		"elapsed", time.Since(start).String(),
	)
	return nil
}

// Export runs one cycle and swallows any failure after logging it. The
// caller sees no error and no file in that case.
func (e *Exporter) Export(ctx context.Context, events []model.Event, filter model.Filter) {
	if err := e.Run(ctx, events, filter); err != nil {
		appLog.Error("export failed", err, "file", FileName, "events", len(events))
	}
}

// StageError records which stage of a cycle failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(err error, stage Stage) error {
	return goerr.Wrap(&StageError{Stage: stage, Err: err}, "export cycle failed", goerr.V("stage", string(stage)))
}

// StageOf returns the stage recorded on err by Run, or "" if none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

package override_test

import (
	"strings"
	"testing"

	"github.com/brunoga/override"
)

func TestReport(t *testing.T) {
	var nilReport *override.Report
	nilReport.Warnf("dropped %d", 1)
	if nilReport.HasErrors() || nilReport.Summary() != "" || nilReport.String() != "" {
		t.Error("nil report should discard everything")
	}

	rep := &override.Report{}
	if rep.Summary() != "" {
		t.Error("empty report has a summary")
	}
	rep.Infof("resyncing %s", "G")
	rep.Counts.Resynced = 2
	rep.Counts.Deleted = 1

	other := &override.Report{}
	other.Errorf("broken %s", "A")
	other.Counts.Residual = 1
	rep.Merge(other)

	if !rep.HasErrors() || len(rep.Messages) != 2 {
		t.Errorf("messages = %v", rep.Messages)
	}
	want := "2 overrides resynced, 1 obsolete overrides deleted, 1 obsolete overrides kept"
	if got := rep.Summary(); got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
	if s := rep.String(); !strings.Contains(s, "error: broken A") || !strings.HasSuffix(s, want+"\n") {
		t.Errorf("String = %q", s)
	}
}

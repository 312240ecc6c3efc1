package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/brunoga/override"
)

var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

// printer renders command output. Styles are bound to the output writer so
// that colors are dropped when it is not a terminal.
type printer struct {
	w io.Writer

	title   lipgloss.Style
	entity  lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	box     lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:       w,
		title:   r.NewStyle().Bold(true).Foreground(colorAccent),
		entity:  r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(colorMuted),
		success: r.NewStyle().Foreground(colorSuccess),
		warning: r.NewStyle().Foreground(colorWarning),
		failure: r.NewStyle().Foreground(colorError),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1),
	}
}

func (p *printer) println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *printer) ok(format string, args ...any) {
	p.println(p.success.Render("✓"), fmt.Sprintf(format, args...))
}

// report prints the messages and the summary of rep.
func (p *printer) report(rep *override.Report) {
	if rep == nil {
		return
	}
	for _, msg := range rep.Messages {
		switch msg.Level {
		case override.LevelError:
			p.println(p.failure.Render("✗ " + msg.Text))
		case override.LevelWarning:
			p.println(p.warning.Render("⚠ " + msg.Text))
		default:
			p.println(p.muted.Render("• " + msg.Text))
		}
	}
	if s := rep.Summary(); s != "" {
		p.println(p.box.Render(s))
	}
}

func (p *printer) libraries(m *override.Main) {
	libs := m.Libraries()
	p.println(p.title.Render(fmt.Sprintf("Libraries (%d)", len(libs))))
	for _, lib := range libs {
		line := "  " + lib.Name + " " + p.muted.Render(lib.Path)
		if lib.Tag&override.LibTagResyncRequired != 0 {
			line += " " + p.warning.Render("(resync required)")
		}
		p.println(line)
	}
}

// overrides prints the local overrides of m with their rules.
func (p *printer) overrides(m *override.Main) {
	var locals []override.Entity
	for _, e := range override.Order(m) {
		if id := e.Base(); !id.IsLinked() && id.IsRealOverride() {
			locals = append(locals, e)
		}
	}
	p.println(p.title.Render(fmt.Sprintf("Overrides (%d)", len(locals))))
	for _, e := range locals {
		p.record(e)
	}
}

func (p *printer) record(e override.Entity) {
	id := e.Base()
	rec := id.Override

	var tags []string
	switch {
	case override.IsSystemDefined(e):
		tags = append(tags, "system")
	case override.IsUserEdited(e):
		tags = append(tags, "edited")
	}
	if id.Flag&override.FlagResyncLeftover != 0 {
		tags = append(tags, "leftover")
	}
	if rec.Reference.Base().IsMissing() {
		tags = append(tags, "missing")
	}
	if id.HasTag(override.TagNeedResync) {
		tags = append(tags, "needs resync")
	}

	line := fmt.Sprintf("  %s %s %s", p.entity.Render(e.Kind().String() + " " + id.Name),
		p.muted.Render("→"), rec.Reference.Base())
	if rec.HierarchyRoot != nil && rec.HierarchyRoot != e {
		line += p.muted.Render(" in " + rec.HierarchyRoot.Base().Name)
	}
	if len(tags) > 0 {
		line += " " + p.warning.Render("[" + strings.Join(tags, ", ") + "]")
	}
	p.println(line)

	for _, prop := range rec.Properties {
		ops := make([]string, len(prop.Operations))
		for i, op := range prop.Operations {
			ops[i] = op.String()
		}
		p.println("    " + prop.Path + " " + p.muted.Render(strings.Join(ops, " ")))
	}
}

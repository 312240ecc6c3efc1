package override

import (
	"fmt"
	"strings"
)

// Level is the severity of a report message.
type Level uint8

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return "info"
}

type Message struct {
	Level Level
	Text  string
}

// Counts aggregates what a pass did to the overrides of a Main.
type Counts struct {
	Created int
	// Resynced counts local overrides rebuilt by a resync, ResyncedLinked
	// the ones owned by a library.
	Resynced       int
	ResyncedLinked int
	// Missing counts overrides whose reference disappeared.
	Missing int
	// Deleted counts obsolete overrides removed by a resync.
	Deleted int
	// Residual counts user-edited obsolete overrides kept in the residual
	// container.
	Residual int
	Applied  int
	Failed   int
}

// Report collects the messages and counts of user-facing passes. A nil
// *Report is valid and discards everything.
type Report struct {
	Messages []Message
	Counts   Counts
}

func (r *Report) add(level Level, format string, args ...any) {
	if r == nil {
		return
	}
	r.Messages = append(r.Messages, Message{Level: level, Text: fmt.Sprintf(format, args...)})
}

func (r *Report) Infof(format string, args ...any)  { r.add(LevelInfo, format, args...) }
func (r *Report) Warnf(format string, args ...any)  { r.add(LevelWarning, format, args...) }
func (r *Report) Errorf(format string, args ...any) { r.add(LevelError, format, args...) }

// count runs fn on the counts when r is not nil.
func (r *Report) count(fn func(c *Counts)) {
	if r != nil {
		fn(&r.Counts)
	}
}

// HasErrors reports whether an error level message was recorded.
func (r *Report) HasErrors() bool {
	if r == nil {
		return false
	}
	for _, msg := range r.Messages {
		if msg.Level == LevelError {
			return true
		}
	}
	return false
}

// Merge appends the messages and adds the counts of other.
func (r *Report) Merge(other *Report) {
	if r == nil || other == nil {
		return
	}
	r.Messages = append(r.Messages, other.Messages...)
	c, o := &r.Counts, other.Counts
	c.Created += o.Created
	c.Resynced += o.Resynced
	c.ResyncedLinked += o.ResyncedLinked
	c.Missing += o.Missing
	c.Deleted += o.Deleted
	c.Residual += o.Residual
	c.Applied += o.Applied
	c.Failed += o.Failed
}

// Summary returns the one line resync summary, empty when nothing worth
// reporting happened.
func (r *Report) Summary() string {
	if r == nil {
		return ""
	}
	c := r.Counts
	var parts []string
	if c.Resynced > 0 {
		parts = append(parts, fmt.Sprintf("%d overrides resynced", c.Resynced))
	}
	if c.ResyncedLinked > 0 {
		parts = append(parts, fmt.Sprintf("%d linked overrides resynced", c.ResyncedLinked))
	}
	if c.Missing > 0 {
		parts = append(parts, fmt.Sprintf("%d overrides with missing references", c.Missing))
	}
	if c.Deleted > 0 {
		parts = append(parts, fmt.Sprintf("%d obsolete overrides deleted", c.Deleted))
	}
	if c.Residual > 0 {
		parts = append(parts, fmt.Sprintf("%d obsolete overrides kept", c.Residual))
	}
	return strings.Join(parts, ", ")
}

func (r *Report) String() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, msg := range r.Messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Level, msg.Text)
	}
	if s := r.Summary(); s != "" {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return b.String()
}

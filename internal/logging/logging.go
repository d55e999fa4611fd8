// Package logging builds the console logger used across the proxy: logrus for
// levels and fields, lipgloss for the colored "[timestamp] [TAG] message" lines.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
)

// TagField is the entry field carrying the bracketed lifecycle tag
const TagField = "tag"

// Lifecycle tags printed in front of messages
const (
	TagOK      = "OK"
	TagWarn    = "WARN"
	TagError   = "ERROR"
	TagVerbose = "VERBOSE"
	TagStart   = "START"
	TagReady   = "READY"
	TagConn    = "CONN"
	TagChange  = "CHANGE"
	TagStop    = "STOP"
	TagDisc    = "DISC"
	TagDump    = "DUMP"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Options selects verbosity for New
type Options struct {
	Verbose     bool
	VeryVerbose bool
}

// New returns a logger writing to w. Verbose enables debug output, VeryVerbose
// adds per-frame trace output.
func New(w io.Writer, opts Options) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(NewFormatter(w))

	switch {
	case opts.VeryVerbose:
		l.SetLevel(logrus.TraceLevel)
	case opts.Verbose:
		l.SetLevel(logrus.DebugLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// Tagged returns an entry that prints with the given tag
func Tagged(l logrus.FieldLogger, tag string) *logrus.Entry {
	return l.WithField(TagField, tag)
}

// Success logs an [OK] line
func Success(l logrus.FieldLogger, format string, args ...interface{}) {
	Tagged(l, TagOK).Infof(format, args...)
}

// Formatter renders entries the way the proxy console has always looked
type Formatter struct {
	dim   lipgloss.Style
	tags  map[string]lipgloss.Style
	plain lipgloss.Style
}

// NewFormatter creates a formatter whose color profile is detected from w, so
// output redirected to a file or buffer stays free of escape codes.
func NewFormatter(w io.Writer) *Formatter {
	r := lipgloss.NewRenderer(w)
	bold := func(color string) lipgloss.Style {
		return r.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
	}

	return &Formatter{
		dim:   r.NewStyle().Faint(true),
		plain: r.NewStyle(),
		tags: map[string]lipgloss.Style{
			TagOK:      bold("2"),
			TagReady:   bold("2"),
			TagWarn:    bold("3"),
			TagError:   bold("1"),
			TagStart:   bold("6"),
			TagConn:    bold("6"),
			TagChange:  bold("4"),
			TagStop:    bold("5"),
			TagDisc:    bold("5"),
			TagDump:    bold("4"),
			TagVerbose: r.NewStyle().Faint(true),
		},
	}
}

// Format implements logrus.Formatter
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	b.WriteString(f.dim.Render("[" + entry.Time.Format(timestampLayout) + "]"))

	tag := tagFor(entry)
	if tag != "" {
		style, ok := f.tags[tag]
		if !ok {
			style = f.plain.Bold(true)
		}
		b.WriteByte(' ')
		b.WriteString(style.Render("[" + tag + "]"))
	}

	msg := entry.Message
	if entry.Level >= logrus.DebugLevel {
		msg = f.dim.Render(msg)
	}
	b.WriteByte(' ')
	b.WriteString(msg)

	if extra := fieldsString(entry.Data); extra != "" {
		b.WriteByte(' ')
		b.WriteString(f.dim.Render(extra))
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func tagFor(entry *logrus.Entry) string {
	if t, ok := entry.Data[TagField].(string); ok {
		return t
	}
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return TagError
	case logrus.WarnLevel:
		return TagWarn
	case logrus.DebugLevel, logrus.TraceLevel:
		return TagVerbose
	}
	return ""
}

func fieldsString(data logrus.Fields) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k == TagField {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, data[k])
	}
	return b.String()
}

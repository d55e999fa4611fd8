package proxy

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/standardbeagle/wincc-debug-proxy/internal/config"
)

// WriteBanner prints the startup summary shown once both listeners are up
func WriteBanner(w io.Writer, cfg config.Config) {
	r := lipgloss.NewRenderer(w)
	heading := r.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	plus := r.NewStyle().Foreground(lipgloss.Color("2")).Render("[+]")
	key := r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)

	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("")
	line(heading.Render("Configuration:"))
	line("   Target:        %s", cfg.TargetAddr())
	line("   Dynamics:      localhost:%d", cfg.DynamicsPort)
	line("   Events:        localhost:%d", cfg.EventsPort)
	line("   Poll interval: %s", cfg.PollInterval)
	line("")
	line(heading.Render("VS Code launch.json ports:"))
	line("   Dynamics: %d", cfg.DynamicsPort)
	line("   Events:   %d", cfg.EventsPort)
	line("")
	line(heading.Render("Features:"))
	line("   %s Server restarts when targets change", plus)
	line("   %s Forces VS Code debugger reconnect", plus)
	line("   %s Separate debug sessions for Dynamics & Events", plus)
	if cfg.LongPaths {
		line("   %s Script path shortening: off (showing full paths)", plus)
	} else {
		line("   %s Script path shortening: on", plus)
	}
	if cfg.DumpDir != "" {
		line("   %s Continuous script dump -> %s/", plus, cfg.DumpDir)
	}
	line("")
	line("Press %s to stop", key.Render("Ctrl+C"))
	line("")

	io.WriteString(w, b.String())
}

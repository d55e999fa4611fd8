package scaffold

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// ErrExists is returned by GenerateScripts when files would be overwritten
// without force.
var ErrExists = errors.New("scripts already exist")

// Script is one generated batch file
type Script struct {
	Name    string
	Purpose string
	Content string
}

var scriptTemplates = []struct {
	prefix  string
	purpose string
	tmpl    *template.Template
}{
	{"wincc-debug-setup", "First-time setup (port proxy + firewall rules)", template.Must(template.New("setup").Parse(`@echo off
echo Setting up WinCC remote debug on {{.Address}}:{{.Port}}...

:: Remove existing rules (safe if they don't exist)
netsh interface portproxy delete v4tov4 listenaddress={{.Address}} listenport={{.Port}}
netsh advfirewall firewall delete rule name="WinCC Debug {{.Port}} IN" >nul 2>&1
netsh advfirewall firewall delete rule name="WinCC Debug {{.Port}} OUT" >nul 2>&1

:: Add port proxy and firewall rules
netsh interface portproxy add v4tov4 listenaddress={{.Address}} listenport={{.Port}} connectaddress=127.0.0.1 connectport={{.Port}}
netsh advfirewall firewall add rule name="WinCC Debug {{.Port}} IN" dir=in action=allow protocol=tcp localport={{.Port}}
netsh advfirewall firewall add rule name="WinCC Debug {{.Port}} OUT" dir=out action=allow protocol=tcp localport={{.Port}}

echo Done! Port proxy and firewall rules configured.
pause
`))},
	{"wincc-debug-restart", "After Windows restart (re-apply port proxy)", template.Must(template.New("restart").Parse(`@echo off
echo Fixing WinCC remote debug port proxy for {{.Address}}:{{.Port}} (post-restart fix)...

netsh interface portproxy delete v4tov4 listenaddress={{.Address}} listenport={{.Port}}
netsh interface portproxy add v4tov4 listenaddress={{.Address}} listenport={{.Port}} connectaddress=127.0.0.1 connectport={{.Port}}

echo Done! Port proxy rule re-applied.
pause
`))},
	{"wincc-debug-cleanup", "Remove all rules", template.Must(template.New("cleanup").Parse(`@echo off
echo Removing WinCC remote debug rules for {{.Address}}:{{.Port}}...

netsh interface portproxy delete v4tov4 listenaddress={{.Address}} listenport={{.Port}}
netsh advfirewall firewall delete rule name="WinCC Debug {{.Port}} IN"
netsh advfirewall firewall delete rule name="WinCC Debug {{.Port}} OUT"

echo Done! All rules removed.
pause
`))},
}

// Slug turns an IPv4 address into a file name fragment
func Slug(address string) string {
	return strings.ReplaceAll(address, ".", "-")
}

// NetshScripts renders the setup, restart and cleanup scripts for a remote
// runtime at address:port.
func NetshScripts(address string, port int) ([]Script, error) {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%q is not an IPv4 address (netsh v4tov4 needs one)", address)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range", port)
	}

	data := struct {
		Address string
		Port    int
	}{address, port}

	scripts := make([]Script, 0, len(scriptTemplates))
	for _, st := range scriptTemplates {
		var buf bytes.Buffer
		if err := st.tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", st.prefix, err)
		}
		scripts = append(scripts, Script{
			Name:    fmt.Sprintf("%s-%s.bat", st.prefix, Slug(address)),
			Purpose: st.purpose,
			Content: buf.String(),
		})
	}
	return scripts, nil
}

// GenerateResult lists what GenerateScripts wrote or refused to touch
type GenerateResult struct {
	Dir      string
	Scripts  []Script
	Existing []string // paths that were already present
	Written  []string
}

// GenerateScripts writes the netsh scripts into dir. When any of them already
// exists and force is false nothing is written and ErrExists is returned.
func GenerateScripts(address string, port int, dir string, force bool) (GenerateResult, error) {
	scripts, err := NetshScripts(address, port)
	if err != nil {
		return GenerateResult{}, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return GenerateResult{}, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	res := GenerateResult{Dir: abs, Scripts: scripts}
	for _, s := range scripts {
		p := filepath.Join(abs, s.Name)
		if _, err := os.Stat(p); err == nil {
			res.Existing = append(res.Existing, p)
		}
	}
	if len(res.Existing) > 0 && !force {
		return res, fmt.Errorf("%d file(s) in %s: %w", len(res.Existing), abs, ErrExists)
	}

	for _, s := range scripts {
		p := filepath.Join(abs, s.Name)
		if err := os.WriteFile(p, []byte(s.Content), 0644); err != nil {
			return res, fmt.Errorf("failed to write %s: %w", p, err)
		}
		res.Written = append(res.Written, p)
	}
	return res, nil
}

// Package scaffold writes the helper files the proxy can generate: a VS Code
// launch.json attaching to both proxy ports, and the netsh batch scripts
// that expose a remote runtime's debug port.
package scaffold

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	DynamicsConfigName = "WinCC:Dynamics"
	EventsConfigName   = "WinCC:Events"
	CompoundName       = "WinCC:All"
)

type attachConfig struct {
	Type                      string   `json:"type"`
	Request                   string   `json:"request"`
	Name                      string   `json:"name"`
	Address                   string   `json:"address"`
	Port                      int      `json:"port"`
	Restart                   bool     `json:"restart"`
	Timeout                   int      `json:"timeout"`
	SourceMaps                bool     `json:"sourceMaps"`
	ResolveSourceMapLocations []string `json:"resolveSourceMapLocations"`
	SkipFiles                 []string `json:"skipFiles"`
	SmartStep                 bool     `json:"smartStep"`
	PauseForSourceMap         bool     `json:"pauseForSourceMap"`
}

type compound struct {
	Name           string   `json:"name"`
	Configurations []string `json:"configurations"`
	StopAll        bool     `json:"stopAll"`
}

type launchFile struct {
	Version        string         `json:"version"`
	Configurations []attachConfig `json:"configurations"`
	Compounds      []compound     `json:"compounds"`
}

func attach(name string, port int) attachConfig {
	return attachConfig{
		Type:                      "node",
		Request:                   "attach",
		Name:                      name,
		Address:                   "localhost",
		Port:                      port,
		Restart:                   true,
		Timeout:                   30000,
		SourceMaps:                true,
		ResolveSourceMapLocations: []string{"**", "!**/node_modules/**"},
		SkipFiles:                 []string{"<node_internals>/**"},
		SmartStep:                 true,
		PauseForSourceMap:         true,
	}
}

// LaunchJSON renders a launch.json with one attach configuration per proxy
// port plus a compound starting both.
func LaunchJSON(dynamicsPort, eventsPort int) ([]byte, error) {
	lf := launchFile{
		Version: "0.2.0",
		Configurations: []attachConfig{
			attach(DynamicsConfigName, dynamicsPort),
			attach(EventsConfigName, eventsPort),
		},
		Compounds: []compound{{
			Name:           CompoundName,
			Configurations: []string{DynamicsConfigName, EventsConfigName},
			StopAll:        true,
		}},
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(lf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// InitResult describes what InitVSCode did
type InitResult struct {
	Path    string
	Created bool   // false when a launch.json was already there
	Content []byte // the generated configuration
}

// InitVSCode writes <dir>/.vscode/launch.json. An existing file is never
// overwritten; the caller prints Content for manual merging instead.
func InitVSCode(dir string, dynamicsPort, eventsPort int) (InitResult, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return InitResult{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	content, err := LaunchJSON(dynamicsPort, eventsPort)
	if err != nil {
		return InitResult{}, fmt.Errorf("failed to render launch.json: %w", err)
	}

	vscodeDir := filepath.Join(abs, ".vscode")
	res := InitResult{Path: filepath.Join(vscodeDir, "launch.json"), Content: content}

	if _, err := os.Stat(res.Path); err == nil {
		return res, nil
	} else if !os.IsNotExist(err) {
		return res, fmt.Errorf("failed to check %s: %w", res.Path, err)
	}

	if err := os.MkdirAll(vscodeDir, 0755); err != nil {
		return res, fmt.Errorf("failed to create %s: %w", vscodeDir, err)
	}
	if err := os.WriteFile(res.Path, content, 0644); err != nil {
		return res, fmt.Errorf("failed to write %s: %w", res.Path, err)
	}
	res.Created = true
	return res, nil
}

package audio

import (
	"fmt"
	"os/exec"
	"strings"
)

// PipeWire queries the PipeWire graph through pw-link
type PipeWire struct {
	run func(name string, args ...string) ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{run: func(name string, args ...string) ([]byte, error) {
		return exec.Command(name, args...).Output()
	}}
}

// PipeWireAvailable reports whether the PipeWire command line tools are installed
func PipeWireAvailable() bool {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return false
	}
	_, err := exec.LookPath("pw-link")
	return err == nil
}

// ListPorts returns the output ports of the graph, which are the ones a
// capture can be attached to
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := pw.run("pw-link", "-o")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(string(output)), nil
}

// ValidatePort checks that a port exists exactly once
func (pw *PipeWire) ValidatePort(portName string) error {
	if portName == "" {
		return nil
	}

	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}
	return validatePortInList(portName, ports)
}

func parsePortList(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

func validatePortInList(portName string, ports []string) error {
	duplicates := findPortDuplicatesInList(portName, ports)

	switch {
	case len(duplicates) == 0:
		return fmt.Errorf("port not found: %s", portName)
	case len(duplicates) > 1:
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}
	return nil
}

// findPortDuplicatesInList finds all ports with exactly the same name
func findPortDuplicatesInList(portName string, ports []string) []string {
	var duplicates []string
	for _, port := range ports {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

// Package hostinfo answers questions about the station itself: its name,
// pages reachable from it, and powering it off.
package hostinfo

import (
	"os"
	"runtime"
	"strings"
)

// UnknownHostname is reported when no name can be determined.
const UnknownHostname = "Unknown PC"

// Details describes the host machine.
type Details struct {
	Hostname string `json:"hostname"`
	PID      int    `json:"pid"`
	GOOS     string `json:"goos"`
}

var (
	lookupEnv  = os.LookupEnv
	osHostname = os.Hostname
)

// Hostname returns the COMPUTERNAME variable, falling back to the kernel
// hostname and then UnknownHostname.
func Hostname() string {
	if name, ok := lookupEnv("COMPUTERNAME"); ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	if name, err := osHostname(); err == nil && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	return UnknownHostname
}

// Describe collects the host details.
func Describe() Details {
	return Details{
		Hostname: Hostname(),
		PID:      os.Getpid(),
		GOOS:     runtime.GOOS,
	}
}

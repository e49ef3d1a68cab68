package runner

import (
	"os"
	"runtime"
)

// localFacts describes the machine the tasks execute on. Facts sit below
// every explicit variable source so playbooks can always override them.
func localFacts() map[string]any {
	facts := map[string]any{
		"converge_os":   runtime.GOOS,
		"converge_arch": runtime.GOARCH,
	}
	if hostname, err := os.Hostname(); err == nil {
		facts["converge_fqdn"] = hostname
	}
	return facts
}

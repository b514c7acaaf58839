//go:build windows

package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// platformReaper frees ports on Windows by parsing netstat output for
// listening sockets and terminating the owning PIDs with taskkill.
type platformReaper struct{}

func (platformReaper) FreePort(ctx context.Context, port int) error {
	out, err := exec.CommandContext(ctx, "netstat", "-ano", "-p", "tcp").Output()
	if err != nil {
		return nil
	}

	needle := fmt.Sprintf(":%d", port)
	seen := make(map[int]bool)
	var failed []string

	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		// Proto Local-Address Foreign-Address State PID
		if len(fields) < 5 || !strings.HasSuffix(fields[1], needle) {
			continue
		}
		if !strings.EqualFold(fields[3], "LISTENING") {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true

		if err := exec.CommandContext(ctx, "taskkill", "/F", "/PID", strconv.Itoa(pid)).Run(); err != nil {
			failed = append(failed, fmt.Sprintf("pid %d: %v", pid, err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("free port %d: %s", port, strings.Join(failed, "; "))
	}
	return nil
}

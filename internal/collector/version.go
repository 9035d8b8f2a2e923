package collector

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"regexp"
	"time"
)

const unknownVersion = "Unknown"

// versionWaitDelay bounds how long output is drained after the process is
// killed, so a grandchild holding stdout cannot stretch the timeout.
const versionWaitDelay = 500 * time.Millisecond

// Runner runs name with args and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = versionWaitDelay
	return cmd.Output()
}

// versionProbe reads "<path> (<product>) <version>" from "<path> --version".
type versionProbe struct {
	path    string
	pattern *regexp.Regexp
	timeout time.Duration
	run     Runner
	logger  *slog.Logger
}

func newVersionProbe(path string, timeout time.Duration, run Runner, logger *slog.Logger) *versionProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if run == nil {
		run = execRunner
	}
	return &versionProbe{
		path:    path,
		pattern: regexp.MustCompile(`^` + regexp.QuoteMeta(path) + ` \(([^)]*)\) (\S+)`),
		timeout: timeout,
		run:     run,
		logger:  logger,
	}
}

// Detect returns the daemon version or "Unknown".
func (p *versionProbe) Detect(ctx context.Context) string {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.run(runCtx, p.path, "--version")
	if err != nil {
		p.logger.Debug("can not exec version command, failed to get libvirtd version",
			"path", p.path, "error", err)
		return unknownVersion
	}
	return p.parse(out)
}

func (p *versionProbe) parse(out []byte) string {
	line, _, _ := bytes.Cut(out, []byte("\n"))
	line = bytes.TrimRight(line, "\r")
	m := p.pattern.FindSubmatch(line)
	if m == nil {
		return unknownVersion
	}
	return string(m[2])
}

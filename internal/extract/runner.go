package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// commandRunner executes external binaries. It exists so that the yt-dlp
// adapter can be exercised without the binary installed.
type commandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	Stream(ctx context.Context, name string, args []string, onLine func(string)) error
}

const maxLineLength = 1024 * 1024

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, commandError(err, stderr.String())
	}

	return out, nil
}

func (execRunner) Stream(ctx context.Context, name string, args []string, onLine func(string)) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanErr := scanLines(stdout, onLine)
	if err := cmd.Wait(); err != nil {
		return commandError(err, stderr.String())
	}

	return scanErr
}

// scanLines feeds each line of r to onLine. If a line cannot be scanned
// the remainder of r is discarded, so that the writer never blocks on a
// full pipe, and the scan error is returned.
func scanLines(r io.Reader, onLine func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		onLine(scanner.Text())
	}

	err := scanner.Err()
	if err != nil {
		_, _ = io.Copy(io.Discard, r)
	}

	return err
}

// commandError picks the most useful line out of the stderr of a
// failed command. yt-dlp prefixes the interesting ones with "ERROR:".
func commandError(err error, stderr string) error {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if msg, ok := strings.CutPrefix(strings.TrimSpace(lines[i]), "ERROR:"); ok {
			return fmt.Errorf("%s", strings.TrimSpace(msg))
		}
	}

	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return fmt.Errorf("%w: %s", err, last)
	}

	return err
}

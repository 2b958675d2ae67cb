package parser

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// WorkerCommand is the hidden CLI subcommand that runs a single parse.
const WorkerCommand = "parse-worker"

// Isolated runs each parse in a child process with a hard deadline. The
// document and the result travel through files in a private temp directory.
// On timeout the child gets SIGTERM, then SIGKILL after KillGrace.
type Isolated struct {
	// Exe is the binary to run. Default: the current executable.
	Exe string
	// Args precede the worker flags. Default: [WorkerCommand].
	Args []string
	// Env is appended to the parent environment.
	Env       []string
	Timeout   time.Duration
	KillGrace time.Duration
	Limits    Limits
}

type workerResult struct {
	Result
	Code    string `json:"code,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Message string `json:"message,omitempty"`
}

// Extract implements Extractor.
func (r *Isolated) Extract(ctx context.Context, kind Kind, data []byte) (Result, error) {
	exe := r.Exe
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return Result{}, &Error{Code: Unavailable(kind), Err: err}
		}
		exe = self
	}
	args := r.Args
	if args == nil {
		args = []string{WorkerCommand}
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	grace := r.KillGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	limits := r.Limits.withDefaults()

	dir, err := os.MkdirTemp("", "bulkimport-parse-*")
	if err != nil {
		return Result{}, eris.Wrap(err, "parser: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	inPath := filepath.Join(dir, "input")
	outPath := filepath.Join(dir, "result.json")
	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return Result{}, eris.Wrap(err, "parser: write input")
	}

	argv := append(append([]string{}, args...),
		"--kind", string(kind),
		"--in", inPath,
		"--out", outPath,
		"--max-rows", strconv.Itoa(limits.MaxRows),
		"--max-cells", strconv.Itoa(limits.MaxCells),
		"--max-chars", strconv.Itoa(limits.MaxChars),
	)
	cmd := exec.Command(exe, argv...) //nolint:gosec
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return Result{}, &Error{Code: Unavailable(kind), Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			zap.L().Warn("parser: worker exited with error", zap.String("kind", string(kind)), zap.Error(err))
		}
	case <-timer.C:
		stop(cmd, done, grace)
		return Result{}, &Error{Code: ParseFailed(kind), Err: eris.Errorf("parser: worker exceeded %s", timeout)}
	case <-ctx.Done():
		stop(cmd, done, grace)
		return Result{}, ctx.Err()
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		return Result{}, &Error{Code: ParseFailed(kind), Err: eris.Wrap(err, "parser: worker produced no result")}
	}
	var res workerResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, &Error{Code: ParseFailed(kind), Err: eris.Wrap(err, "parser: decode worker result")}
	}
	switch {
	case res.Code == "":
		return res.Result, nil
	case res.Code == CodeMaxRows || res.Code == CodeMaxCells:
		return Result{}, &LimitError{Code: res.Code, Limit: res.Limit}
	default:
		return Result{}, &Error{Code: res.Code, Err: errors.New(res.Message)}
	}
}

// stop terminates the child, escalating to SIGKILL when it ignores SIGTERM.
func stop(cmd *exec.Cmd, done <-chan error, grace time.Duration) {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(grace):
	}
	_ = cmd.Process.Kill()
	select {
	case <-done:
	case <-time.After(grace):
		zap.L().Error("parser: worker did not exit after kill", zap.Int("pid", cmd.Process.Pid))
	}
}

// RunWorker is the child side: parse inPath and write the outcome to outPath.
// Parse failures are reported in the result file, not as a non-zero exit.
func RunWorker(kind Kind, inPath, outPath string, limits Limits) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return eris.Wrap(err, "parser: read input")
	}

	var out workerResult
	res, err := Extract(kind, data, limits)
	var le *LimitError
	var pe *Error
	switch {
	case err == nil:
		out.Result = res
	case errors.As(err, &le):
		out.Code, out.Limit, out.Message = le.Code, le.Limit, le.Error()
	case errors.As(err, &pe):
		out.Code, out.Message = pe.Code, pe.Error()
	default:
		out.Code, out.Message = ParseFailed(kind), err.Error()
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return eris.Wrap(err, "parser: encode result")
	}
	tmp := outPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return eris.Wrap(err, "parser: write result")
	}
	return eris.Wrap(os.Rename(tmp, outPath), "parser: publish result")
}

package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Значения по умолчанию CommandExecutor.
const (
	defaultMaxOutput = 1 << 20
	defaultWaitDelay = 5 * time.Second
)

// CommandExecutor выполняет внешнюю команду шага.
//
// Step.Run запускается через shell (sh -c), Step.Command — напрямую как argv.
// stdout и stderr захватываются вместе и, если задан Request.Output, дублируются туда.
type CommandExecutor struct {
	// Shell — интерпретатор для Step.Run (default: sh -c).
	Shell []string

	// MaxOutput — сколько последних байт вывода хранить в результате (default: 1 MiB).
	MaxOutput int
}

// Execute запускает процесс и ждёт его завершения.
func (e *CommandExecutor) Execute(ctx context.Context, req *Request) (*ExecutionResult, error) {
	argv := e.argv(req.Step)
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: step %s has no command", ErrStepFailed, req.Step.ID)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = req.Dir
	cmd.Env = req.Env
	cmd.WaitDelay = defaultWaitDelay

	var buf bytes.Buffer
	var out io.Writer = &buf
	if req.Output != nil {
		out = io.MultiWriter(&buf, req.Output)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	output := e.tail(buf.Bytes())

	if err == nil {
		return &ExecutionResult{ExitCode: 0, Output: output}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1, если процесс завершён сигналом
		code := exitErr.ExitCode()
		msg := fmt.Sprintf("exit status %d", code)
		if ctx.Err() != nil {
			msg = fmt.Sprintf("interrupted: %v", ctx.Err())
		}
		return &ExecutionResult{ExitCode: code, Output: output, Error: msg}, nil
	}

	return &ExecutionResult{ExitCode: domain.ExitCodeNotRun, Output: output},
		fmt.Errorf("start %s: %w", argv[0], err)
}

// argv возвращает аргументы процесса для шага.
func (e *CommandExecutor) argv(step domain.Step) []string {
	if step.Run != "" {
		shell := e.Shell
		if len(shell) == 0 {
			shell = []string{"sh", "-c"}
		}
		return append(append([]string(nil), shell...), step.Run)
	}
	return step.Command
}

// tail обрезает вывод до последних MaxOutput байт.
func (e *CommandExecutor) tail(b []byte) string {
	limit := e.MaxOutput
	if limit <= 0 {
		limit = defaultMaxOutput
	}
	if len(b) <= limit {
		return string(b)
	}
	return "...(truncated)\n" + string(b[len(b)-limit:])
}

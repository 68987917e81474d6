// Package cliexec implements the generic CLI subprocess adapter: spawn a
// command, stream stdout/stderr, and enforce an activity timeout that
// resets on every output chunk rather than firing on a fixed wall clock —
// reasoning models may think silently for long stretches before
// streaming, so a fixed deadline would kill them mid-thought.
package cliexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ai-counsel/counsel/internal/log"
	"github.com/ai-counsel/counsel/pkg/adapter"
	"github.com/ai-counsel/counsel/pkg/errs"
	"github.com/ai-counsel/counsel/pkg/types"
	"go.uber.org/zap"
)

// Config describes how to invoke one CLI-backed model.
type Config struct {
	// Command is the executable to run (e.g. "claude", "codex").
	Command string
	// Args is appended after Command; the prompt is always passed as the
	// final argument.
	Args []string
	// ActivityTimeout is the quiet-interval deadline: the subprocess is
	// killed if no output chunk arrives within this duration.
	ActivityTimeout time.Duration
	// TiktokenEncoding, when non-empty, selects a registered tiktoken
	// encoding for estimating token counts; otherwise the len(text)//4
	// heuristic is used.
	TiktokenEncoding string
}

// Adapter invokes a model via a CLI subprocess.
type Adapter struct {
	cfg Config
	enc *tiktoken.Tiktoken
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs a cliexec Adapter. If TiktokenEncoding is set but fails
// to load, a warning is logged and token estimation falls back to the
// heuristic.
func New(cfg Config) *Adapter {
	if cfg.ActivityTimeout <= 0 {
		cfg.ActivityTimeout = 60 * time.Second
	}

	a := &Adapter{cfg: cfg}
	if cfg.TiktokenEncoding != "" {
		if enc, err := tiktoken.GetEncoding(cfg.TiktokenEncoding); err == nil {
			a.enc = enc
		} else {
			log.Warn("tiktoken encoding unavailable, using heuristic estimate",
				zap.String("encoding", cfg.TiktokenEncoding), zap.Error(err))
		}
	}
	return a
}

// Invoke runs the configured command with prompt (and ctxText prepended,
// when present) as its final argument, streaming output under the
// activity timeout.
func (a *Adapter) Invoke(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, error) {
	text, _, err := a.invoke(ctx, prompt, model, ctxText)
	return text, err
}

// InvokeWithMetadata behaves like Invoke and additionally estimates token
// usage, always marking accuracy=estimated — CLI adapters never receive
// provider-reported usage metadata.
func (a *Adapter) InvokeWithMetadata(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, types.TokenUsage, error) {
	text, combined, err := a.invoke(ctx, prompt, model, ctxText)
	usage := types.TokenUsage{
		Input:     a.estimateTokens(combined),
		Output:    a.estimateTokens(text),
		Accuracy:  types.TokenAccuracyEstimated,
		Adapter:   types.AdapterTypeCLI,
		Model:     model,
		Timestamp: time.Now(),
	}
	return text, usage, err
}

func (a *Adapter) invoke(ctx context.Context, prompt, model, ctxText string) (text string, combinedInput string, err error) {
	combinedInput = adapter.JoinPromptContext(prompt, ctxText)

	args := append(append([]string{}, a.cfg.Args...), combinedInput)
	cmd := exec.CommandContext(ctx, a.cfg.Command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", combinedInput, errs.NewAdapterInvocation(model, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", combinedInput, errs.NewAdapterInvocation(model, err)
	}

	if err := cmd.Start(); err != nil {
		return "", combinedInput, errs.NewAdapterInvocation(model, err)
	}

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	activity := make(chan struct{}, 64)

	wg.Add(2)
	go streamInto(&outBuf, stdout, activity, &wg)
	go streamInto(&errBuf, stderr, activity, &wg)

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(a.cfg.ActivityTimeout)
	defer timer.Stop()

	for {
		select {
		case <-activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(a.cfg.ActivityTimeout)

		case waitErr := <-done:
			if waitErr != nil {
				return outBuf.String(), combinedInput, errs.NewAdapterInvocation(model,
					fmt.Errorf("exit error: %w: stderr: %s", waitErr, errBuf.String()))
			}
			return outBuf.String(), combinedInput, nil

		case <-timer.C:
			_ = cmd.Process.Kill()
			wg.Wait() // let streamInto finish writing before reading outBuf
			return outBuf.String(), combinedInput, errs.NewAdapterTimeout(model,
				fmt.Errorf("no output for %s", a.cfg.ActivityTimeout))

		case <-ctx.Done():
			_ = cmd.Process.Kill()
			wg.Wait() // let streamInto finish writing before reading outBuf
			return outBuf.String(), combinedInput, ctx.Err()
		}
	}
}

// streamInto copies r into buf line by line, signalling activity on
// every chunk so the caller's deadline resets.
func streamInto(buf *strings.Builder, r io.Reader, activity chan<- struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		buf.WriteString(scanner.Text())
		buf.WriteByte('\n')
		select {
		case activity <- struct{}{}:
		default:
		}
	}
}

func (a *Adapter) estimateTokens(text string) int {
	if a.enc != nil {
		return len(a.enc.Encode(text, nil, nil))
	}
	return adapter.EstimateTokens(text)
}

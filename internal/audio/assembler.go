package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-practice/internal/config"
	"github.com/loqalabs/loqa-practice/internal/proc"
)

// AssemblyError reports a failed concatenation. Op is one of prepare, list,
// run or verify.
type AssemblyError struct {
	Op     string
	Output string
	Err    error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble %s: %s: %v", e.Output, e.Op, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Assembler joins segments, in ordinal order, into one output file. Every
// input segment is deleted before Assemble returns, whatever the outcome.
type Assembler interface {
	Assemble(ctx context.Context, segments []Segment, outPath string) error
}

// Func adapts a plain function to Assembler.
type Func func(ctx context.Context, segments []Segment, outPath string) error

func (f Func) Assemble(ctx context.Context, segments []Segment, outPath string) error {
	return f(ctx, segments, outPath)
}

// FFmpegAssembler concatenates clips with ffmpeg's concat demuxer using a
// lossless stream copy.
type FFmpegAssembler struct {
	path      string
	extraArgs []string
	timeout   time.Duration
	logger    *slog.Logger
}

func NewFFmpegAssembler(cfg config.AssemblerConfig, logger *slog.Logger) (*FFmpegAssembler, error) {
	var extra []string
	if strings.TrimSpace(cfg.ExtraArgs) != "" {
		args, err := shellwords.NewParser().Parse(cfg.ExtraArgs)
		if err != nil {
			return nil, fmt.Errorf("parse assembler extra args: %w", err)
		}
		extra = args
	}
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegAssembler{
		path:      path,
		extraArgs: extra,
		timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:    logger.With(slog.String("component", "audio-assembler")),
	}, nil
}

// Ready reports whether the ffmpeg binary can be found.
func (a *FFmpegAssembler) Ready() error {
	if _, err := exec.LookPath(a.path); err != nil {
		return fmt.Errorf("missing required binary %q: %w", a.path, err)
	}
	return nil
}

func (a *FFmpegAssembler) Assemble(ctx context.Context, segments []Segment, outPath string) (err error) {
	listPath := outPath + ".concat.txt"
	defer func() {
		if rmErr := RemoveSegments(segments); rmErr != nil {
			a.logger.Warn("failed to remove segments", slog.String("output", outPath), slog.String("error", rmErr.Error()))
		}
		if rmErr := os.Remove(listPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			a.logger.Warn("failed to remove concat list", slog.String("path", listPath), slog.String("error", rmErr.Error()))
		}
		if err != nil {
			_ = os.Remove(outPath)
		}
	}()

	if len(segments) == 0 {
		return &AssemblyError{Op: "prepare", Output: outPath, Err: errors.New("no segments to assemble")}
	}
	ordered, err := SortByOrdinal(segments)
	if err != nil {
		return &AssemblyError{Op: "prepare", Output: outPath, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return &AssemblyError{Op: "prepare", Output: outPath, Err: err}
	}
	if err := writeConcatList(listPath, ordered); err != nil {
		return &AssemblyError{Op: "list", Output: outPath, Err: err}
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy"}
	args = append(args, a.extraArgs...)
	args = append(args, outPath)

	start := time.Now()
	cmd := proc.CommandContext(ctx, a.path, args...)
	out, runErr := cmd.CombinedOutput()
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &AssemblyError{Op: "run", Output: outPath, Err: fmt.Errorf("%w: %v", ctxErr, runErr)}
		}
		return &AssemblyError{Op: "run", Output: outPath, Err: fmt.Errorf("ffmpeg concat failed: %w; out=%s", runErr, bytes.TrimSpace(out))}
	}

	info, statErr := os.Stat(outPath)
	if statErr != nil {
		return &AssemblyError{Op: "verify", Output: outPath, Err: fmt.Errorf("output missing: %w", statErr)}
	}
	if info.Size() == 0 {
		return &AssemblyError{Op: "verify", Output: outPath, Err: errors.New("output is empty")}
	}

	a.logger.Debug("audio assembled",
		slog.String("output", outPath),
		slog.Int("segments", len(ordered)),
		slog.Int64("bytes", info.Size()),
		slog.Duration("latency", time.Since(start)))
	return nil
}

func writeConcatList(path string, segments []Segment) error {
	var b strings.Builder
	for _, seg := range segments {
		abs, err := filepath.Abs(seg.Path)
		if err != nil {
			return err
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

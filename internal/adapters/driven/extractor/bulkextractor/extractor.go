package bulkextractor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
	"github.com/custodia-labs/dfdewey/internal/logger"
)

// Ensure Extractor implements the interface.
var _ driven.StringExtractor = (*Extractor)(nil)

const (
	// DefaultCommand is the executable looked up on PATH.
	DefaultCommand = "bulk_extractor"

	// WordlistFile is the feature file holding extracted strings.
	WordlistFile = "wordlist.txt"

	// wordMax is the longest string bulk_extractor reports.
	wordMax = 1000000
)

// Extractor invokes bulk_extractor and streams its wordlist.
type Extractor struct {
	command string
	workDir string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithWorkDir sets the parent directory of per-run output directories.
func WithWorkDir(dir string) Option {
	return func(e *Extractor) {
		e.workDir = dir
	}
}

// NewExtractor creates an extractor running command.
func NewExtractor(command string, opts ...Option) *Extractor {
	if command == "" {
		command = DefaultCommand
	}
	e := &Extractor{command: command, workDir: os.TempDir()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check verifies the executable can be found.
func (e *Extractor) Check(_ context.Context) error {
	if _, err := exec.LookPath(e.command); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrExtractorMissing, e.command, err)
	}
	return nil
}

// Args returns the bulk_extractor arguments for one run.
func Args(outDir, imagePath string, opts domain.ExtractOptions) []string {
	args := []string{"-o", outDir, "-x", "all", "-e", "wordlist"}
	if opts.Base64 {
		args = append(args, "-e", "base64")
	}
	if opts.Gzip {
		args = append(args, "-e", "gzip")
	}
	if opts.Zip {
		args = append(args, "-e", "zip")
	}
	args = append(args, "-S", "strings=1", "-S", fmt.Sprintf("word_max=%d", wordMax))
	return append(args, imagePath)
}

// Extract runs bulk_extractor over imagePath, then streams the wordlist.
func (e *Extractor) Extract(
	ctx context.Context,
	imagePath string,
	opts domain.ExtractOptions,
) (<-chan domain.ExtractedString, <-chan error) {
	records := make(chan domain.ExtractedString, 1024)
	errs := make(chan error, 16)

	go func() {
		defer close(records)
		defer close(errs)

		// bulk_extractor refuses to write into an existing directory.
		outDir := filepath.Join(e.workDir, "dfdewey-"+uuid.NewString())
		defer os.RemoveAll(outDir)

		if err := e.run(ctx, outDir, imagePath, opts); err != nil {
			sendErr(ctx, errs, err)
			return
		}

		f, err := os.Open(filepath.Join(outDir, WordlistFile))
		if err != nil {
			sendErr(ctx, errs, fmt.Errorf("open wordlist: %w", err))
			return
		}
		defer f.Close()

		if err := ParseWordlist(ctx, f, records, errs); err != nil {
			sendErr(ctx, errs, err)
		}
	}()

	return records, errs
}

func (e *Extractor) run(ctx context.Context, outDir, imagePath string, opts domain.ExtractOptions) error {
	args := Args(outDir, imagePath, opts)
	logger.Info("Running %s: [%s %s]", e.command, e.command, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, e.command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("string extraction: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("string extraction: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", domain.ErrExtractorMissing, err)
		}
		return fmt.Errorf("string extraction: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error { return pump(stdout, "") })
	g.Go(func() error { return pump(stderr, "stderr: ") })
	pumpErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("string extraction failed: %w", err)
	}
	if pumpErr != nil {
		return fmt.Errorf("read extractor output: %w", pumpErr)
	}
	return nil
}

// pump forwards process output to the debug log.
func pump(r io.Reader, prefix string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			logger.Debug("bulk_extractor %s%s", prefix, line)
		}
	}
	if err := sc.Err(); err != nil {
		// Drain so the process never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

func sendErr(ctx context.Context, errs chan<- error, err error) {
	select {
	case errs <- err:
	case <-ctx.Done():
	}
}

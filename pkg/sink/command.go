package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/rrdimport/pkg/resample"
)

// CommandOpener pipes import lines into "<Command> --stat-file <path>", one process per stream
type CommandOpener struct {
	Command string

	// RequireExisting skips streams whose stat file does not exist
	RequireExisting bool
}

// Open starts the import process for the stream
func (o *CommandOpener) Open(ctx context.Context, t Target) (Stream, error) {
	if o.RequireExisting {
		if _, err := os.Stat(t.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrStreamMissing, t.Path)
			}
			return nil, err
		}
	}

	log := logrus.WithFields(logrus.Fields{
		"command": o.Command,
		"stream":  t.Path,
	})

	cmd := exec.CommandContext(ctx, o.Command, "--stat-file", t.Path)
	out := log.WriterLevel(logrus.DebugLevel)
	cmd.Stdout = out
	cmd.Stderr = out

	stdin, err := cmd.StdinPipe()
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to start %s: %w", o.Command, err)
	}

	return &commandStream{
		cmd:   cmd,
		stdin: stdin,
		bw:    bufio.NewWriter(stdin),
		out:   out,
	}, nil
}

type commandStream struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	bw    *bufio.Writer
	out   io.Closer
}

func (s *commandStream) Write(ctx context.Context, b resample.Bucket) error {
	_, err := s.bw.WriteString(FormatBucket(b))
	return err
}

// Close flushes the input, closes the pipe and waits for the process to exit
func (s *commandStream) Close() error {
	flushErr := s.bw.Flush()
	s.stdin.Close()
	waitErr := s.cmd.Wait()
	s.out.Close()

	if flushErr != nil {
		return fmt.Errorf("failed to write to import command: %w", flushErr)
	}
	if waitErr != nil {
		return fmt.Errorf("import command failed: %w", waitErr)
	}
	return nil
}

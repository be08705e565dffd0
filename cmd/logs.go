package cmd

import (
	"bufio"
	"fmt"
	"io"
	stdlog "log"
	"os"

	"github.com/hpcloud/tail"
	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/logging"
	"github.com/spf13/cobra"
)

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the mercure log file",
		Long: `Print the log file written when logging.file.enabled is set.

Examples:
  # Follow the log
  mercure logs -f

  # Last 100 lines
  mercure logs --tail 100`,
		RunE: runLogsE,
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", -1, "Number of lines to show from the end of the log (default: all)")
	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	var logCfg logging.Config
	if err := e.cfg.UnmarshalExtension("logging", &logCfg); err != nil {
		return err
	}
	path := logging.FilePath(logCfg.File)
	if path == "" {
		return errors.InvalidInput("no log directory available")
	}

	follow, _ := cmd.Flags().GetBool("follow")
	n, _ := cmd.Flags().GetInt("tail")

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !follow {
			e.pretty.InfoPretty(fmt.Sprintf("No log file at %s", path))
			return nil
		}
		if !os.IsNotExist(err) {
			return err
		}
	}

	offset, err := tailOffset(path, n)
	if err != nil {
		return err
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: !follow,
		Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Logger:    stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer t.Cleanup()

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				e.logger.WithError(line.Err).Debug("Tail error")
				continue
			}
			fmt.Fprintln(e.out, line.Text)
		}
	}
}

// tailOffset returns the byte offset where the last n lines of path begin.
// A negative n, or a missing file, starts at the beginning.
func tailOffset(path string, n int) (int64, error) {
	if n < 0 {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var starts []int64
	var pos int64
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			starts = append(starts, pos)
			pos += int64(len(line))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if n >= len(starts) {
		return 0, nil
	}
	if n == 0 {
		return pos, nil
	}
	return starts[len(starts)-n], nil
}

// Command iodrv-cat reads a file through the completion-based driver core
// and writes its contents to stdout, a few buffer's worth at a time. It
// exists to exercise driver.Driver end to end the way a real caller would:
// open, attach, push ReadAt in a loop, drain completions, stop at EOF.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-completio/completio/driver"
	"github.com/go-completio/completio/internal/logging"
	"github.com/go-completio/completio/internal/metrics"
	"github.com/go-completio/completio/op"
)

func main() {
	bufSize := flag.Int("buf-size", 64*1024, "read buffer size in bytes")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		logging.SetDefault(logging.New(&logging.Config{Level: logging.LevelDebug, Output: os.Stderr}))
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: iodrv-cat [-buf-size N] [-v] <path>")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, flag.Arg(0), *bufSize); err != nil {
		logging.Error("iodrv-cat failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, bufSize int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	stats := metrics.New()
	d, err := driver.New(driver.Config{Entries: 16, Observer: stats, Logger: logging.Default()})
	if err != nil {
		return fmt.Errorf("new driver: %w", err)
	}
	defer d.Close()

	if err := d.Attach(f.Fd()); err != nil {
		return fmt.Errorf("attach: %w", err)
	}

	var offset int64
	var token uint64
	pending := map[uint64][]byte{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		buffer := make([]byte, bufSize)
		readOp := op.NewReadAt(f.Fd(), offset, buffer)
		if ok, _ := d.TryPushDyn(driver.NewOpObject(token, readOp)); !ok {
			return fmt.Errorf("push rejected: ring full at capacity %d", d.CapacityLeft())
		}
		pending[token] = buffer
		token++
		offset += int64(bufSize)

		var sink []driver.Entry
		if err := d.SubmitAndWaitCompleted(nil, &sink); err != nil {
			return fmt.Errorf("submit_and_wait_completed: %w", err)
		}

		done := false
		for _, entry := range sink {
			n, opErr := entry.Result()
			if opErr != nil {
				return fmt.Errorf("read at token %d: %w", entry.Token(), opErr)
			}
			if n == 0 {
				done = true
				continue
			}
			if _, err := os.Stdout.Write(pending[entry.Token()][:n]); err != nil {
				return fmt.Errorf("write stdout: %w", err)
			}
			delete(pending, entry.Token())
		}
		if done {
			break
		}
	}

	snap := stats.Snapshot()
	logging.Debug("done", "bytes", snap.BytesTransferred, "reads", snap.TotalOps, "avg_latency_ns", snap.AvgLatencyNs, "uptime", time.Duration(snap.UptimeNs))
	return nil
}

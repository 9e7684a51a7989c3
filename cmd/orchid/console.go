package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/c360/orchid/engine"
)

// console runs operator commands read line by line.
type console struct {
	eng    *engine.Engine
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

func newConsole(eng *engine.Engine, in io.Reader, out io.Writer, logger *slog.Logger) *console {
	return &console{eng: eng, in: in, out: out, logger: logger.With("component", "console")}
}

// Run reads commands until quit, EOF or ctx is done. It reports whether
// the operator asked to quit.
func (c *console) Run(ctx context.Context) bool {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			if c.execute(ctx, line) {
				return true
			}
		}
	}
}

// execute runs one command and reports whether the console should exit.
func (c *console) execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "start":
		title, number := "", 0
		if len(args) > 0 {
			title = args[0]
		}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				c.reply("run number must be a positive integer: %q", args[1])
				return false
			}
			number = n
		}
		run, err := c.eng.StartRun(title, number)
		if err != nil {
			c.reply("start failed: %v", err)
			return false
		}
		c.reply("run %d (%s) started, id %s", run.Number, run.Title, run.ID)

	case "stop":
		if err := c.eng.StopRun(ctx); err != nil {
			c.reply("stop failed: %v", err)
			return false
		}
		c.reply("run stopped")

	case "interval":
		if len(args) != 1 {
			c.reply("usage: interval <duration>")
			return false
		}
		d, err := time.ParseDuration(args[0])
		if err == nil {
			err = c.eng.SetPollInterval(d)
		}
		if err != nil {
			c.reply("interval failed: %v", err)
			return false
		}
		c.reply("slow controls every %s", d)

	case "status":
		data, err := json.MarshalIndent(c.eng.Snapshot(), "", "  ")
		if err != nil {
			c.reply("status failed: %v", err)
			return false
		}
		c.reply("%s", data)

	case "health":
		data, _ := json.MarshalIndent(c.eng.Health(), "", "  ")
		c.reply("%s", data)

	case "quit", "exit":
		return true

	default:
		c.reply("unknown command %q (start, stop, interval, status, health, quit)", cmd)
	}
	return false
}

func (c *console) reply(format string, args ...any) {
	if _, err := fmt.Fprintf(c.out, format+"\n", args...); err != nil {
		c.logger.Debug("console write failed", "error", err)
	}
}

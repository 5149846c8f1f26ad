// Package console is the Runtime Console (spec §4.7): a background reader on
// standard input accepting single-character commands. Table rendering
// follows aduermael-langdag's tablewriter usage (internal/cli/dag.go); no
// teacher precedent exists for a stdin command loop, so the reader itself is
// a plain bufio.Scanner loop in the teacher's general CLI idiom.
package console

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// Commands is the fixed set of single-character Runtime Console commands.
const (
	CommandRestart = "R"
	CommandQuit    = "Q"
	CommandHelp    = "H"
)

// Console reads single-keystroke commands from in and dispatches them.
type Console struct {
	in        io.Reader
	out       io.Writer
	logger    *slog.Logger
	onRestart func()
	onQuit    func()
}

// New builds a Console reading from stdin. onRestart re-executes the process
// with the same argv/env; onQuit begins graceful shutdown.
func New(logger *slog.Logger, onRestart, onQuit func()) *Console {
	return &Console{in: os.Stdin, out: os.Stdout, logger: logger, onRestart: onRestart, onQuit: onQuit}
}

// Run blocks, reading one line at a time, until the input is closed. Meant
// to run in its own goroutine.
func (c *Console) Run() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		cmd := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		switch cmd {
		case CommandRestart:
			c.logger.Info("console: restart requested")
			c.onRestart()
		case CommandQuit:
			c.logger.Info("console: shutdown requested")
			c.onQuit()
			return
		case CommandHelp:
			c.printHelp()
		case "":
			// ignore bare newlines
		default:
			// unknown input is ignored, per spec §4.7
		}
	}
}

func (c *Console) printHelp() {
	color.Cyan("Runtime Console commands:")
	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"Key", "Action"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.Append([]string{CommandRestart, "re-execute the proxy with the same arguments and environment"})
	table.Append([]string{CommandQuit, "stop accepting requests, drain in-flight work, then exit"})
	table.Append([]string{CommandHelp, "print this command list"})
	table.Render()
}

// Restart re-executes the current binary with the same argv and environment,
// replacing the current process image on platforms that support exec, and
// falling back to spawn-then-exit elsewhere.
func Restart() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	return restartProcess(exe, os.Args, os.Environ())
}

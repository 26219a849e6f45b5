package proctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Console drives a Runner from line commands. It is what the agent subcommand
// reads from stdin; tests feed it a script.
type Console struct {
	runner     *Runner
	visibility *VisibilityAdapter
	focus      *FocusAdapter
	faces      *ScriptedClassifier
	language   string
	out        io.Writer
}

func NewConsole(runner *Runner, visibility *VisibilityAdapter, focus *FocusAdapter, faces *ScriptedClassifier, out io.Writer) *Console {
	return &Console{
		runner:     runner,
		visibility: visibility,
		focus:      focus,
		faces:      faces,
		language:   "go",
		out:        out,
	}
}

var errQuit = errors.New("quit")

// Run reads commands until EOF, "quit" or ctx cancellation. Command errors are
// printed and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		err := c.Exec(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (c *Console) Exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "next":
		c.printState(c.runner.Next())
	case "prev":
		c.printState(c.runner.Previous())
	case "answer":
		key, value, ok := strings.Cut(rest, " ")
		if !ok || key == "" {
			return errors.New("usage: answer <key> <value>")
		}
		c.printState(c.runner.SetAnswer(key, strings.TrimSpace(value)))
	case "lang":
		if rest == "" {
			return errors.New("usage: lang <language>")
		}
		c.language = rest
	case "run":
		res, err := c.runner.RunCode(ctx, c.language)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "run: success=%t\n%s\n", res.Success, res.Output)
	case "hide":
		c.visibility.SetHidden(true)
		c.visibility.SetHidden(false)
		c.printState(c.runner.State())
	case "blur":
		c.focus.SetFocused(false)
		c.focus.SetFocused(true)
		c.printState(c.runner.State())
	case "faces":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return errors.New("usage: faces <n>")
		}
		if c.faces == nil {
			return errors.New("face count is not scriptable with this classifier")
		}
		c.faces.SetCount(n)
	case "submit":
		attempt, err := c.runner.Submit(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "submitted: %s\n", attempt.ID)
		if attempt.TotalScore != nil && attempt.Decision != nil {
			fmt.Fprintf(c.out, "score: %d decision: %s\n", *attempt.TotalScore, *attempt.Decision)
		}
	case "state":
		c.printState(c.runner.State())
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (c *Console) printState(s SessionState) {
	fmt.Fprintf(c.out, "step %d/%d %s [%s] progress=%.0f%% warnings=%d faces=%d\n",
		s.Step, LastStep, s.Step, s.Phase, s.Progress()*100, s.Warnings, s.FaceCount)
	if s.MultipleFaces {
		fmt.Fprintln(c.out, "warning: multiple faces detected")
	}
}

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/hupe1980/contextloop"
)

const chatHelp = `Commands:
  /show    print the projected prompt of the current thread
  /new     start a new thread
  /thread  print the current thread id
  /exit    leave the chat`

// ChatCmd runs an interactive session on one thread.
type ChatCmd struct {
	Thread string `short:"t" long:"thread" description:"thread id to continue; empty starts a new thread"`

	app *app
}

func (c *ChatCmd) Execute(_ []string) error {
	cl, err := c.app.openLoop()
	if err != nil {
		return err
	}

	rl, err := readline.New("> ")
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(c.app.out, chatHelp)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("failed to read input: %w", err)
		}

		quit, err := c.handle(cl, line)
		if err != nil {
			fmt.Fprintln(c.app.out, "error:", err)
		}

		if quit || c.app.ctx.Err() != nil {
			return nil
		}
	}
}

// handle processes one input line. It reports whether the session ends.
func (c *ChatCmd) handle(cl *contextloop.ContextLoop, line string) (bool, error) {
	line = strings.TrimSpace(line)

	switch line {
	case "":
		return false, nil
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(c.app.out, chatHelp)
		return false, nil
	case "/new":
		c.Thread = ""
		fmt.Fprintln(c.app.out, "started a new thread")
		return false, nil
	case "/thread":
		fmt.Fprintln(c.app.out, c.Thread)
		return false, nil
	case "/show":
		if c.Thread == "" {
			return false, errors.New("no messages yet")
		}

		p, err := cl.Prompt(c.app.ctx, c.Thread)
		if err != nil {
			return false, err
		}

		data, err := p.YAML()
		if err != nil {
			return false, err
		}

		_, err = c.app.out.Write(data)

		return false, err
	}

	res, err := cl.Ask(c.app.ctx, c.Thread, line)
	if res != nil {
		c.Thread = res.Thread.ID()
		c.app.printResult(res)
	}

	return false, err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jessevdk/go-flags"
)

// Options is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags.
type Options struct {
	Config   string `short:"c" long:"config" env:"CONTEXTLOOP_CONFIG" description:"configuration file (YAML)"`
	DB       string `long:"db" description:"thread database path, overrides store.path"`
	NoMemory bool   `long:"no-memory" description:"keep threads in memory only"`
	Dev      bool   `long:"dev" description:"use the offline development model"`
	Verbose  bool   `short:"v" long:"verbose" description:"mirror loop records to the console log"`

	Chat       ChatCmd       `command:"chat" description:"Interactive chat on a thread"`
	Ask        AskCmd        `command:"ask" description:"Send one message and print the answer"`
	Show       ShowCmd       `command:"show" description:"Print the projected prompt of a thread"`
	List       ListCmd       `command:"list" description:"List stored threads"`
	Stats      StatsCmd      `command:"stats" description:"Print thread store statistics"`
	Delete     DeleteCmd     `command:"delete" description:"Delete a thread"`
	Backup     BackupCmd     `command:"backup" description:"Copy the SQLite thread database"`
	Tools      ToolsCmd      `command:"tools" description:"List the registered tools"`
	Validate   ValidateCmd   `command:"validate" description:"Load and validate the configuration"`
	InitConfig InitConfigCmd `command:"init-config" description:"Write a configuration file with the defaults"`
	Version    VersionCmd    `command:"version" description:"Print the version"`
}

// run parses args and executes the selected command.
func run(ctx context.Context, args []string, out io.Writer) error {
	opts := &Options{}

	a := &app{ctx: ctx, out: out, opts: opts}
	defer a.close()

	opts.Chat.app = a
	opts.Ask.app = a
	opts.Show.app = a
	opts.List.app = a
	opts.Stats.app = a
	opts.Delete.app = a
	opts.Backup.app = a
	opts.Tools.app = a
	opts.Validate.app = a
	opts.InitConfig.app = a
	opts.Version.app = a

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "contextloop"

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(out, flagsErr.Message)
			return nil
		}

		return err
	}

	return nil
}

// VersionCmd prints the build version.
type VersionCmd struct {
	app *app
}

func (c *VersionCmd) Execute(_ []string) error {
	fmt.Fprintln(c.app.out, version)
	return nil
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/contextloop/agent"
	"github.com/hupe1980/contextloop/config"
	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/prompt"
)

// AskCmd sends a single message and prints the final answer.
type AskCmd struct {
	Thread string `short:"t" long:"thread" description:"thread id to continue; empty starts a new thread"`
	Args   struct {
		Text []string `positional-arg-name:"message" required:"1"`
	} `positional-args:"yes"`

	app *app
}

func (c *AskCmd) Execute(_ []string) error {
	cl, err := c.app.openLoop()
	if err != nil {
		return err
	}

	res, err := cl.Ask(c.app.ctx, c.Thread, strings.Join(c.Args.Text, " "))
	if res != nil {
		c.app.printResult(res)
	}

	return err
}

// printResult writes the final text or the failure report of a run.
func (a *app) printResult(res *agent.Result) {
	if res.Failure != nil {
		fmt.Fprintf(a.out, "run failed: %s\n", res.Failure.Kind)
	} else {
		fmt.Fprintln(a.out, res.Text)
	}

	fmt.Fprintf(a.out, "[thread %s | iterations %d | retries %d]\n", res.Thread.ID(), res.Iterations, res.Retries)
}

// ShowCmd prints the prompt projection of a stored thread.
type ShowCmd struct {
	Format string `short:"f" long:"format" default:"yaml" choice:"yaml" choice:"json" choice:"events" description:"output format"`
	Args   struct {
		ID string `positional-arg-name:"thread-id" required:"yes"`
	} `positional-args:"yes"`

	app *app
}

func (c *ShowCmd) Execute(_ []string) error {
	store, err := c.app.openStore()
	if err != nil {
		return err
	}

	th, err := store.Load(c.app.ctx, c.Args.ID)
	if err != nil {
		return err
	}

	var data []byte

	switch c.Format {
	case "json":
		data, err = json.MarshalIndent(prompt.ProjectWindow(th, c.app.cfg.WindowSize), "", "  ")
		data = append(data, '\n')
	case "events":
		data, err = json.MarshalIndent(th, "", "  ")
		data = append(data, '\n')
	default:
		data, err = prompt.ProjectWindow(th, c.app.cfg.WindowSize).YAML()
	}

	if err != nil {
		return err
	}

	_, err = c.app.out.Write(data)

	return err
}

// ListCmd prints the stored threads, most recently updated first.
type ListCmd struct {
	app *app
}

func (c *ListCmd) Execute(_ []string) error {
	store, err := c.app.openStore()
	if err != nil {
		return err
	}

	infos, err := store.List(c.app.ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENTS\tUPDATED")

	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\t%s\n", info.ID, info.EventCount, info.UpdatedAt.Local().Format(time.DateTime))
	}

	return w.Flush()
}

// StatsCmd prints aggregate statistics of the thread store.
type StatsCmd struct {
	app *app
}

func (c *StatsCmd) Execute(_ []string) error {
	store, err := c.app.openStore()
	if err != nil {
		return err
	}

	st, err := core.CollectStats(c.app.ctx, store)
	if err != nil {
		return err
	}

	last := "never"
	if !st.LastActivity.IsZero() {
		last = st.LastActivity.Local().Format(time.DateTime)
	}

	w := tabwriter.NewWriter(c.app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "driver:\t%s\n", c.app.cfg.Store.Driver)
	fmt.Fprintf(w, "threads:\t%d\n", st.Threads)
	fmt.Fprintf(w, "messages:\t%d\n", st.Messages)
	fmt.Fprintf(w, "events:\t%d\n", st.Events)

	if c.app.sqlite != nil {
		fmt.Fprintf(w, "database:\t%s (%s)\n", c.app.cfg.Store.Path, humanize.Bytes(uint64(st.SizeBytes)))
	}

	fmt.Fprintf(w, "last activity:\t%s\n", last)

	return w.Flush()
}

// DeleteCmd removes a thread.
type DeleteCmd struct {
	Args struct {
		IDs []string `positional-arg-name:"thread-id" required:"1"`
	} `positional-args:"yes"`

	app *app
}

func (c *DeleteCmd) Execute(_ []string) error {
	store, err := c.app.openStore()
	if err != nil {
		return err
	}

	for _, id := range c.Args.IDs {
		if err := store.Delete(c.app.ctx, id); err != nil {
			return fmt.Errorf("deleting %s: %w", id, err)
		}

		fmt.Fprintf(c.app.out, "deleted %s\n", id)
	}

	return nil
}

// BackupCmd copies the SQLite database to a new file.
type BackupCmd struct {
	Args struct {
		Path string `positional-arg-name:"path" required:"yes"`
	} `positional-args:"yes"`

	app *app
}

func (c *BackupCmd) Execute(_ []string) error {
	if _, err := c.app.openStore(); err != nil {
		return err
	}

	if c.app.sqlite == nil {
		return errors.New("backup requires the sqlite store driver")
	}

	if err := c.app.sqlite.Backup(c.app.ctx, c.Args.Path); err != nil {
		return err
	}

	fmt.Fprintf(c.app.out, "backup written to %s\n", c.Args.Path)

	return nil
}

// ToolsCmd lists the registered tools.
type ToolsCmd struct {
	app *app
}

func (c *ToolsCmd) Execute(_ []string) error {
	cl, err := c.app.openLoop()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tCAPABILITY\tDESCRIPTION")

	for _, spec := range cl.Registry().Specs() {
		category := spec.Category
		if category == "" {
			category = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", spec.Name, category, spec.Capability, spec.Description)
	}

	return w.Flush()
}

// ValidateCmd loads the configuration and prints the effective settings.
type ValidateCmd struct {
	app *app
}

func (c *ValidateCmd) Execute(_ []string) error {
	cfg, err := c.app.loadConfig()
	if err != nil {
		return err
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	fmt.Fprintln(c.app.out, "configuration is valid")
	_, err = c.app.out.Write(data)

	return err
}

// InitConfigCmd writes the default configuration.
type InitConfigCmd struct {
	Force bool `long:"force" description:"overwrite an existing file"`
	Args  struct {
		Path string `positional-arg-name:"path"`
	} `positional-args:"yes"`

	app *app
}

func (c *InitConfigCmd) Execute(_ []string) error {
	path := c.Args.Path
	if path == "" {
		path = config.DefaultFileName
	}

	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}

	fmt.Fprintf(c.app.out, "wrote %s\n", path)

	return nil
}

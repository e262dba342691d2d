// Package builtin provides the general purpose tools every contextloop agent
// ships with: time, arithmetic, text utilities, JSON formatting, UUIDs and
// thread introspection.
package builtin

import (
	"time"

	"github.com/hupe1980/contextloop/tool"
)

// Options configures the builtin tool set.
type Options struct {
	// Now is the clock used by get_current_time. Defaults to time.Now.
	Now func() time.Time
}

// Tools returns the builtin tools.
func Tools(optFns ...func(o *Options)) []tool.Tool {
	opts := Options{Now: time.Now}

	for _, fn := range optFns {
		fn(&opts)
	}

	return []tool.Tool{
		newCurrentTimeTool(opts.Now),
		newCalculateTool(),
		newEchoTool(),
		newCountWordsTool(),
		newFormatJSONTool(),
		newGenerateUUIDTool(),
		newThreadStatsTool(),
	}
}

// Register adds every builtin tool to reg.
func Register(reg *tool.Registry, optFns ...func(o *Options)) error {
	for _, t := range Tools(optFns...) {
		if err := reg.Register(t); err != nil {
			return err
		}
	}

	return nil
}

// Package commands implements the slash-command registry: primary names,
// alias resolution, and the guardrail commands loaded from YAML.
package commands

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"codexkit/internal/app"
	"codexkit/internal/logging"
)

// ExecuteFunc runs a command against the UI boundary.
type ExecuteFunc func(ctx context.Context, ui app.EventSink, args []string) error

// ExpandFunc turns command arguments into a model prompt.
type ExpandFunc func(args []string) (string, error)

// Command is one registered slash command.
type Command struct {
	Name            string
	Aliases         []string
	Description     string
	RequiresArgs    bool
	PromptExpanding bool
	Guardrail       bool
	GuardrailScript string
	Execute         ExecuteFunc
	ExpandPrompt    ExpandFunc
}

// Registry maps primary names to commands and aliases to primaries.
// Names and aliases share one global namespace.
type Registry struct {
	mu        sync.RWMutex
	primaries map[string]*Command
	aliases   map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		primaries: make(map[string]*Command),
		aliases:   make(map[string]string),
	}
}

// Register adds a command. Any collision between the new name or aliases
// and the existing namespace is an error.
func (r *Registry) Register(cmd *Command) error {
	if cmd.Name == "" {
		return fmt.Errorf("command has no name")
	}
	if cmd.Execute == nil {
		return fmt.Errorf("command %q has no execute function", cmd.Name)
	}
	if cmd.PromptExpanding && cmd.ExpandPrompt == nil {
		return fmt.Errorf("command %q is prompt-expanding but has no expander", cmd.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range append([]string{cmd.Name}, cmd.Aliases...) {
		if _, taken := r.primaries[name]; taken {
			return fmt.Errorf("command name %q already registered", name)
		}
		if owner, taken := r.aliases[name]; taken {
			return fmt.Errorf("name %q already aliased to %q", name, owner)
		}
	}

	r.primaries[cmd.Name] = cmd
	for _, a := range cmd.Aliases {
		r.aliases[a] = cmd.Name
	}
	logging.Command("registered %s (%d aliases)", cmd.Name, len(cmd.Aliases))
	return nil
}

// Find resolves a primary name or alias.
func (r *Registry) Find(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.primaries[name]; ok {
		return cmd, true
	}
	if primary, ok := r.aliases[name]; ok {
		return r.primaries[primary], true
	}
	return nil, false
}

// Names returns all primary names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.primaries))
	for name := range r.primaries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run finds and executes a command, enforcing RequiresArgs.
func (r *Registry) Run(ctx context.Context, ui app.EventSink, name string, args []string) error {
	cmd, ok := r.Find(name)
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if cmd.RequiresArgs && len(args) == 0 {
		return fmt.Errorf("%s requires arguments", cmd.Name)
	}
	return cmd.Execute(ctx, ui, args)
}

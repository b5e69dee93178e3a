// Package schema describes the command tree for callers that drive the CLI
// programmatically, including which commands submit transactions.
package schema

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

// SignsAnnotation marks a command that may sign and broadcast transactions.
const SignsAnnotation = "vaultflow/signs"

type Command struct {
	Path        string    `json:"path"`
	Use         string    `json:"use"`
	Short       string    `json:"short"`
	Signs       bool      `json:"signs_transactions"`
	Flags       []Flag    `json:"flags,omitempty"`
	Subcommands []Command `json:"subcommands,omitempty"`
}

type Flag struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Usage    string `json:"usage"`
	Default  string `json:"default,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// MarkSigning tags cmd with SignsAnnotation.
func MarkSigning(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[SignsAnnotation] = "true"
	return cmd
}

// Build describes the subtree at commandPath ("" for the whole tree).
func Build(root *cobra.Command, commandPath string) (Command, error) {
	cmd := root
	for _, part := range strings.Fields(commandPath) {
		next := findChild(cmd, part)
		if next == nil {
			return Command{}, clierr.New(clierr.CodeUsage, "command not found: "+commandPath)
		}
		cmd = next
	}
	return describe(cmd), nil
}

func findChild(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func describe(cmd *cobra.Command) Command {
	out := Command{
		Path:  strings.TrimSpace(cmd.CommandPath()),
		Use:   cmd.Use,
		Short: cmd.Short,
		Signs: cmd.Annotations[SignsAnnotation] == "true",
		Flags: flags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		child := describe(sub)
		out.Signs = out.Signs || child.Signs
		out.Subcommands = append(out.Subcommands, child)
	}
	return out
}

func flags(cmd *cobra.Command) []Flag {
	var items []Flag
	cmd.NonInheritedFlags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		items = append(items, Flag{
			Name:     f.Name,
			Type:     f.Value.Type(),
			Usage:    f.Usage,
			Default:  f.DefValue,
			Required: required,
		})
	})
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

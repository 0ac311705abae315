package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/syssam/nestwrite/relation"
	"github.com/syssam/nestwrite/schema"
	"github.com/syssam/nestwrite/schema/load"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the relations of a node schema",
		Long: `Inspect classifies every nested field reachable from the root node and
prints its relation kind, the phase it is written in and its target model.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, n, err := loadNode(rootOpts)
			if err != nil {
				return err
			}
			cat := relation.NewCatalog(spec.Graph)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", "FIELD", "KIND", "PHASE", "TARGET")
			if err := inspect(w, cat, n, "", map[*schema.Node]bool{}); err != nil {
				return WrapExitError(ExitCommandError, "classify", err)
			}
			return w.Flush()
		},
	}
}

var title = cases.Title(language.English)

func inspect(w io.Writer, cat *relation.Catalog, n *schema.Node, prefix string, seen map[*schema.Node]bool) error {
	if seen[n] {
		return nil
	}
	seen[n] = true
	defer delete(seen, n)
	tbl, err := cat.Classify(n)
	if err != nil {
		return err
	}
	for _, d := range tbl.Fields {
		path := d.Name
		if prefix != "" {
			path = prefix + "." + d.Name
		}
		kind := title.String(strings.ReplaceAll(d.Kind.String(), "_", " "))
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", path, kind, d.Phase(), d.Target.Name)
		if err := inspect(w, cat, d.Node, path, seen); err != nil {
			return err
		}
	}
	return nil
}

// loadNode reads the schema file and resolves the root node.
func loadNode(opts *RootOptions) (*load.Spec, *schema.Node, error) {
	if opts.Schema == "" || opts.Node == "" {
		return nil, nil, &ExitError{Code: ExitCommandError, Message: "--schema and --node are required"}
	}
	spec, err := load.ReadFile(opts.Schema)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load schema", err)
	}
	n, err := spec.Node(opts.Node)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load schema", err)
	}
	return spec, n, nil
}

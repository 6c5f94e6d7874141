package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/spf13/cobra"
)

func newLayoutsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layouts",
		Short: "List the attribute set layouts",
		Long:  "Print the name, component count, scalar type, element size and default element of every built-in layout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LAYOUT\tCOMPONENTS\tSCALAR\tBYTES\tDEFAULT")
			writeLayout(w, interop.Int1())
			writeLayout(w, interop.Int4())
			writeLayout(w, interop.Float4())
			writeLayout(w, interop.Color4())
			return w.Flush()
		},
	}
}

func writeLayout[T interop.Scalar](w *tabwriter.Writer, l interop.Layout[T]) {
	defaults := make([]T, l.Components())
	for c := range defaults {
		defaults[c] = l.Default(c)
	}
	fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%v\n", l.Name(), l.Components(), l.Kind(), l.ElementSize(), defaults)
}

// Package cmd holds the deskstream subcommands.
package cmd

import (
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"

	"github.com/smazurov/deskstream/internal/capture"
	"github.com/smazurov/deskstream/internal/encoders"
	"github.com/smazurov/deskstream/internal/input"
	"github.com/smazurov/deskstream/internal/transport"
	"github.com/spf13/cobra"
)

// CreateBackendsCmd lists the compiled-in backends and platform defaults.
func CreateBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List available capture, encoder, transport and input backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printBackends(cmd.OutOrStdout())
		},
	}
}

func printBackends(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "platform\t%s/%s\n\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintln(tw, "STAGE\tBACKEND\tDEFAULT\tDETAILS")

	for _, name := range capture.Names() {
		details := ""
		if reg, err := capture.Lookup(name); err == nil {
			details = reg.Description
			if reg.Hardware {
				details += " (hardware paced)"
			}
		}
		fmt.Fprintf(tw, "capture\t%s\t%s\t%s\n", name, mark(name == capture.Default()), details)
	}
	for _, name := range encoders.Names() {
		details := ""
		if reg, err := encoders.Lookup(name); err == nil {
			details = "codec " + reg.Codec
		}
		fmt.Fprintf(tw, "encoder\t%s\t%s\t%s\n", name, mark(name == encoders.Default()), details)
	}
	for _, name := range transport.Names() {
		fmt.Fprintf(tw, "transport\t%s\t%s\t\n", name, mark(name == transport.Default()))
	}
	for _, name := range input.Names() {
		fmt.Fprintf(tw, "input\t%s\t%s\t\n", name, mark(name == input.Default()))
	}
	return tw.Flush()
}

func mark(ok bool) string {
	if ok {
		return "*"
	}
	return ""
}

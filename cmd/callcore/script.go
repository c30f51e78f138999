package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vango-go/vai-callcore/pkg/core/script"
)

func newScriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Conversation script tooling",
	}
	cmd.AddCommand(newScriptValidateCmd())
	cmd.AddCommand(newScriptRenderCmd())
	return cmd
}

func newScriptValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check script files for structural errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScriptValidate(cmd.OutOrStdout(), args)
		},
	}
}

func runScriptValidate(out io.Writer, paths []string) error {
	color := isTerminal(out)
	failed := 0
	for _, path := range paths {
		s, report, err := readScript(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s %s\n", paint(color, red, "FAIL"), path)
			fmt.Fprintf(out, "  error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "%s %s (%s, %d states)\n", paint(color, green, "ok"), path, s.Name, len(s.States))
		for _, w := range report.Warnings {
			fmt.Fprintf(out, "  %s %s\n", paint(color, yellow, "warning:"), w)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scripts invalid", failed, len(paths))
	}
	return nil
}

func newScriptRenderCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render a script's state graph as Mermaid or Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := readScript(args[0])
			if err != nil {
				return err
			}
			switch format {
			case "mermaid":
				fmt.Fprint(cmd.OutOrStdout(), script.RenderMermaid(s))
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), script.RenderDOT(s))
			default:
				return fmt.Errorf("unknown format %q (want mermaid or dot)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "mermaid", "output format: mermaid or dot")
	return cmd
}

func readScript(path string) (*script.Script, script.Report, error) {
	format, ok := script.FormatFromPath(path)
	if !ok {
		return nil, script.Report{}, fmt.Errorf("%s: unsupported extension", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, script.Report{}, err
	}
	return script.Parse(data, format)
}

const (
	red    = "31"
	green  = "32"
	yellow = "33"
)

func paint(enabled bool, code, s string) string {
	if !enabled {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

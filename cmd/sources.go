package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/india-geodata/harvest-cli/internal/harvest"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the available sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildRegistry()
		if err != nil {
			return err
		}
		return formatSources(os.Stdout, reg.All())
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func formatSources(out io.Writer, sources []harvest.Source) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTITLE\tPAGING")
	fmt.Fprintln(w, "----\t-----\t------")
	for _, s := range sources {
		paging := "whole key"
		if n := s.PageSize(); n > 0 {
			paging = fmt.Sprintf("%d per page", n)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name(), s.Title(), paging)
	}
	return w.Flush()
}

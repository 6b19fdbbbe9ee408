package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"repscan/internal/extracthtml"
)

func (a *app) locatorsCommand() *cobra.Command {
	var (
		file      string
		debugHTML string
		field     string
		textOnly  bool
	)
	cmd := &cobra.Command{
		Use:   "locators",
		Short: "Show or debug the locator table",
		Long: "Without flags, prints the active locator table with the XPath each entry\n" +
			"resolves to. With --debug-html, prints what one locator matches in a saved page.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			locs := extracthtml.DefaultLocators()
			if file == "" {
				file = a.cfg.LocatorsFile
			}
			if file != "" {
				lf, err := extracthtml.LoadLocatorFile(file)
				if err != nil {
					return usagef("load locators: %v", err)
				}
				locs = lf.Locators
			}

			if debugHTML == "" {
				printLocators(a, locs)
				return nil
			}

			if field == "" {
				return usagef("--debug-html requires --field")
			}
			var picked []extracthtml.Locator
			for _, l := range locs {
				if strings.EqualFold(l.Field, field) {
					picked = append(picked, l)
				}
			}
			if len(picked) == 0 {
				return usagef("no locator for field %q", field)
			}

			loader := extracthtml.NewLoader(a.deps.HTTPClient, a.cfg.Session.Timeout)
			html, err := loader.Load(cmd.Context(), loaderInput(debugHTML, a))
			if err != nil {
				return fmt.Errorf("load html: %w", err)
			}
			for _, l := range picked {
				if err := extracthtml.DebugPrintLocator(a.stdout, html, l, textOnly); err != nil {
					return fmt.Errorf("debug locator: %w", err)
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&file, "file", "", "JSON5 locators file to validate and show (default: locators_file from config, else built-in)")
	f.StringVar(&debugHTML, "debug-html", "", "HTML to debug against: a file path, an http(s) URL, or - for stdin")
	f.StringVar(&field, "field", "", "field label to debug, e.g. HOSTNAME")
	f.BoolVar(&textOnly, "text", false, "print normalized text instead of outer HTML")
	return cmd
}

func loaderInput(src string, a *app) extracthtml.Input {
	switch {
	case src == "-":
		return extracthtml.Input{Stdin: a.stdin}
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return extracthtml.Input{URL: src}
	default:
		return extracthtml.Input{Path: src}
	}
}

func printLocators(a *app, locs []extracthtml.Locator) {
	t := table.NewWriter()
	t.SetOutputMirror(a.stdout)
	t.AppendHeader(table.Row{"Group", "Field", "Rule", "XPath"})
	for _, l := range locs {
		t.AppendRow(table.Row{l.Group, l.Field, string(l.Rule), l.XPath()})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/jingkaihe/mocklock/pkg/api"
)

// wantTable reports whether w should get human-readable tables instead of
// JSON: only when it is a terminal and --json is off.
func wantTable(w io.Writer) bool {
	if viper.GetBool("json") {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func printRules(w io.Writer, rules []api.Rule, table bool) error {
	if !table {
		if rules == nil {
			rules = []api.Rule{}
		}
		return printJSON(w, rules)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENABLED\tMETHOD\tURL\tSTATUS\tNAME")
	for i := range rules {
		r := &rules[i]
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%d\t%s\n", r.ID, r.Enabled, r.Method(), r.Request.URL, statusOf(r.Response), r.Name)
	}
	return tw.Flush()
}

func printRule(w io.Writer, rule api.Rule, table bool) error {
	if !table {
		return printJSON(w, rule)
	}
	return printRules(w, []api.Rule{rule}, true)
}

func statusOf(p api.MockResponse) int {
	if p.Status == 0 {
		return 200
	}
	return p.Status
}

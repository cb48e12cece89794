package main

/*
blockcrack — recovers obfuscated domains from Mastodon instance block lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"encoding/csv"
	"fmt"
	stdio "io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/x-stp/blockcrack/internal/blocklist"
	"github.com/x-stp/blockcrack/internal/core"
	bcio "github.com/x-stp/blockcrack/internal/io"
)

// reportRow is one record together with the sources that block it.
type reportRow struct {
	Record       *core.Record
	Attributions []core.Attribution
}

// buildReport pairs each record with its attributions. Records keep the
// order of records.
func buildReport(records []*core.Record, lists []*blocklist.BlockList, unresolvedOnly bool) []reportRow {
	rows := make([]reportRow, 0, len(records))
	for _, r := range records {
		if unresolvedOnly && r.Resolved() {
			continue
		}
		rows = append(rows, reportRow{Record: r, Attributions: core.Attributions(lists, r.ID())})
	}
	return rows
}

// writeReport renders rows in format to path, or to stdout when path is empty.
func writeReport(path, format string, rows []reportRow, colored bool) error {
	var render func(w stdio.Writer) error
	switch format {
	case "text", "":
		render = func(w stdio.Writer) error { return writeText(w, rows, colored) }
	case "csv":
		render = func(w stdio.Writer) error { return writeCSV(w, rows) }
	default:
		return fmt.Errorf("unknown report format %q (want text or csv)", format)
	}

	if path != "" {
		return bcio.WriteFileAtomic(path, "report", render)
	}
	if colored {
		return render(color.Output)
	}
	return render(os.Stdout)
}

// palette holds the colour functions of the text report.
type palette struct {
	known, masked, suspend, silence func(a ...interface{}) string
}

func newPalette(colored bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		known:   mk(color.FgHiGreen, color.Bold),
		masked:  mk(color.FgHiYellow),
		suspend: mk(color.FgHiRed),
		silence: mk(color.FgYellow),
	}
}

// writeText prints each record's display domain followed by one
// "- Blocked by ..." line per attribution and a blank line.
func writeText(w stdio.Writer, rows []reportRow, colored bool) error {
	p := newPalette(colored)
	for _, row := range rows {
		name := p.masked(row.Record.DisplayDomain())
		if row.Record.Resolved() {
			name = p.known(row.Record.DisplayDomain())
		}
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
		for _, a := range row.Attributions {
			line := "- " + a.String()
			switch a.Severity {
			case blocklist.SeveritySuspend:
				line = p.suspend(line)
			case blocklist.SeveritySilence:
				line = p.silence(line)
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

var csvHeader = []string{"digest", "domain", "known_domain", "partial_domains", "source", "severity", "comment"}

// writeCSV writes one line per attribution. Records nobody blocks any more
// still get one line with the source columns empty.
func writeCSV(w stdio.Writer, rows []reportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		r := row.Record
		base := []string{r.ID(), r.DisplayDomain(), r.Known(), strings.Join(r.PartialDomains.Sorted(), ";")}
		if len(row.Attributions) == 0 {
			if err := cw.Write(append(base, "", "", "")); err != nil {
				return err
			}
			continue
		}
		for _, a := range row.Attributions {
			line := append(append([]string(nil), base...), a.Source, string(a.Severity), a.Comment)
			if err := cw.Write(line); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

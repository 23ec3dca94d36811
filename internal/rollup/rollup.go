// Package rollup groups source lines into declaration lines and builds
// the partner-facing Declaration for an entry.
package rollup

import (
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/entrysync/internal/model"
	"github.com/cleared-dev/entrysync/internal/money"
)

// Group is the rollup of every source line sharing a DeclKey.
type Group struct {
	Key   model.DeclKey
	Lines []model.SourceLine // source order
	acc   money.Accumulator
}

// Totals returns the aggregated amounts for the group. Adjustment lines
// count with inverted sign. No clamping is applied.
func (g *Group) Totals() model.Amounts {
	return g.acc.Total()
}

func (g *Group) add(l model.SourceLine) {
	g.Lines = append(g.Lines, l)
	g.acc.Add(l.Type, l.Amounts)
}

// Rollup groups lines by DeclKey. Totals do not depend on input order.
func Rollup(lines []model.SourceLine) map[model.DeclKey]*Group {
	groups := make(map[model.DeclKey]*Group)
	for _, l := range lines {
		g, ok := groups[l.Key]
		if !ok {
			g = &Group{Key: l.Key}
			groups[l.Key] = g
		}
		g.add(l)
	}
	return groups
}

// Ordered groups lines like Rollup and returns the groups in the order
// their keys first appear in lines.
func Ordered(lines []model.SourceLine) []*Group {
	groups := make(map[model.DeclKey]*Group)
	var order []*Group
	for _, l := range lines {
		g, ok := groups[l.Key]
		if !ok {
			g = &Group{Key: l.Key}
			groups[l.Key] = g
			order = append(order, g)
		}
		g.add(l)
	}
	return order
}

// Quantity is the summed quantity of every line in the group. Quantities
// are physical counts, so line type does not change their sign.
func (g *Group) Quantity() decimal.Decimal {
	q := decimal.Zero
	for _, l := range g.Lines {
		q = q.Add(l.Quantity)
	}
	return q
}

// Representative returns the line with the lowest LineNumber; the first
// one seen wins a tie. Descriptive fields of the declaration line come
// from it.
func (g *Group) Representative() model.SourceLine {
	best := g.Lines[0]
	for _, l := range g.Lines[1:] {
		if l.LineNumber < best.LineNumber {
			best = l
		}
	}
	return best
}

// Agencies folds the PGA rows of the group, in source order, into agency
// elements. A new element starts whenever the agency/program pair differs
// from the previous row; pairs that repeat later are not merged back.
func (g *Group) Agencies() []model.PGAAgency {
	var out []model.PGAAgency
	for _, l := range g.Lines {
		for _, row := range l.PGA {
			n := len(out)
			if n > 0 && out[n-1].AgencyCode == row.AgencyCode && out[n-1].ProgramCode == row.ProgramCode {
				out[n-1].Details = append(out[n-1].Details, row.Detail)
				continue
			}
			out = append(out, model.PGAAgency{
				AgencyCode:  row.AgencyCode,
				ProgramCode: row.ProgramCode,
				Details:     []model.PGADetail{row.Detail},
			})
		}
	}
	return out
}

package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/stockpipe/internal/storage"
	"github.com/rxtech-lab/stockpipe/internal/types"
)

// listItem implements list.Item for the ticker list.
type listItem struct {
	name        string
	description string
}

func (i listItem) Title() string       { return i.name }
func (i listItem) Description() string { return i.description }
func (i listItem) FilterValue() string { return i.name }

// NewTickerList creates the list used to pick a stored ticker.
func NewTickerList() list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Select Ticker"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	return l
}

// TickerItems converts store statistics into list items.
func TickerItems(stats []storage.TickerStats) []list.Item {
	items := make([]list.Item, 0, len(stats))

	for _, s := range stats {
		items = append(items, listItem{
			name:        s.Ticker,
			description: fmt.Sprintf("%d rows, %s to %s", s.Rows, s.FirstDate, s.LastDate),
		})
	}

	return items
}

// NewRecordTable creates the table that shows stored records.
func NewRecordTable() table.Model {
	columns := []table.Column{
		{Title: "Date", Width: 12},
		{Title: "Close", Width: 18},
		{Title: "Open", Width: 14},
		{Title: "High", Width: 14},
		{Title: "Low", Width: 14},
		{Title: "Volume", Width: 16},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	t.SetStyles(s)

	return t
}

// UpdateTableRows fills the table with records in date order, marking each close
// against the previous day.
func UpdateTableRows(t table.Model, records []types.Record) table.Model {
	rows := make([]table.Row, 0, len(records))
	previous := decimal.Zero

	for _, r := range records {
		rows = append(rows, table.Row{
			r.Date,
			FormatPriceWithColor(r.Close, previous),
			r.Open.StringFixed(4),
			r.High.StringFixed(4),
			r.Low.StringFixed(4),
			fmt.Sprint(r.Volume),
		})
		previous = r.Close
	}

	t.SetRows(rows)

	return t
}

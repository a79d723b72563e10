package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rxtech-lab/stockpipe/internal/storage"
	"github.com/rxtech-lab/stockpipe/internal/types"
)

// Application states.
const (
	StateTickerSelect = iota
	StateRecordDisplay
)

// RecordSource is the read side of the store. *storage.Reader implements it.
type RecordSource interface {
	Stats(ctx context.Context) ([]storage.TickerStats, error)
	List(ctx context.Context, ticker string) ([]types.Record, error)
}

// Model is the Bubble Tea model for browsing stored records.
type Model struct {
	ctx         context.Context
	source      RecordSource
	state       int
	tickerList  list.Model
	recordTable table.Model
	stats       []storage.TickerStats
	ticker      string
	records     []types.Record
	loaded      bool
	err         error
	width       int
	height      int
}

// NewModel creates a Model reading from source.
func NewModel(ctx context.Context, source RecordSource) Model {
	return Model{
		ctx:         ctx,
		source:      source,
		state:       StateTickerSelect,
		tickerList:  NewTickerList(),
		recordTable: NewRecordTable(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.loadStats()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "esc":
			return m.handleEsc()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.tickerList.SetSize(msg.Width, msg.Height-4)
		m.recordTable.SetWidth(msg.Width)
		m.recordTable.SetHeight(msg.Height - 6)

		return m, nil

	case StatsLoadedMsg:
		m.stats = msg.Stats
		m.loaded = true
		m.err = nil
		cmd := m.tickerList.SetItems(TickerItems(msg.Stats))

		return m, cmd

	case RecordsLoadedMsg:
		m.ticker = msg.Ticker
		m.records = msg.Records
		m.err = nil
		m.recordTable = UpdateTableRows(m.recordTable, msg.Records)
		m.recordTable.GotoBottom()
		m.state = StateRecordDisplay

		return m, nil

	case LoadErrorMsg:
		m.err = msg.Err

		return m, nil
	}

	// Delegate to state-specific update
	switch m.state {
	case StateTickerSelect:
		return m.updateTickerSelect(msg)
	case StateRecordDisplay:
		return m.updateRecordDisplay(msg)
	}

	return m, nil
}

func (m Model) handleEsc() (tea.Model, tea.Cmd) {
	if m.state == StateRecordDisplay {
		m.state = StateTickerSelect
		m.ticker = ""
		m.records = nil
		m.err = nil
		m.recordTable.SetRows(nil)
	}

	return m, nil
}

func (m Model) updateTickerSelect(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			if item, ok := m.tickerList.SelectedItem().(listItem); ok {
				return m, m.loadRecords(item.name)
			}
		case "r":
			return m, m.loadStats()
		}
	}

	var cmd tea.Cmd
	m.tickerList, cmd = m.tickerList.Update(msg)

	return m, cmd
}

func (m Model) updateRecordDisplay(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.recordTable, cmd = m.recordTable.Update(msg)

	return m, cmd
}

func (m Model) loadStats() tea.Cmd {
	ctx, source := m.ctx, m.source

	return func() tea.Msg {
		stats, err := source.Stats(ctx)
		if err != nil {
			return LoadErrorMsg{Err: err}
		}

		return StatsLoadedMsg{Stats: stats}
	}
}

func (m Model) loadRecords(ticker string) tea.Cmd {
	ctx, source := m.ctx, m.source

	return func() tea.Msg {
		records, err := source.List(ctx, ticker)
		if err != nil {
			return LoadErrorMsg{Err: err}
		}

		return RecordsLoadedMsg{Ticker: ticker, Records: records}
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var s strings.Builder

	switch m.state {
	case StateTickerSelect:
		s.WriteString(TitleStyle.Render("Stockpipe - Stored Data"))
		s.WriteString("\n\n")
		m.writeError(&s)

		switch {
		case !m.loaded:
			s.WriteString("Loading...\n")
		case len(m.stats) == 0:
			s.WriteString("No records stored.\n")
		default:
			s.WriteString(m.tickerList.View())
		}

		s.WriteString("\n")
		s.WriteString(HelpStyle.Render("Enter: show records | r: refresh | q: quit"))

	case StateRecordDisplay:
		s.WriteString(TitleStyle.Render(fmt.Sprintf("%s - %d records", m.ticker, len(m.records))))
		s.WriteString("\n\n")
		m.writeError(&s)

		if len(m.records) == 0 {
			s.WriteString("No records for this ticker.\n")
		} else {
			s.WriteString(m.recordTable.View())
		}

		s.WriteString("\n")
		s.WriteString(HelpStyle.Render("q: quit | Esc: back"))
	}

	return s.String()
}

func (m Model) writeError(s *strings.Builder) {
	if m.err != nil {
		s.WriteString(ErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}
}

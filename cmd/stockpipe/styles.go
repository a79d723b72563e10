package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

// Style definitions.
var (
	// TitleStyle for headers.
	TitleStyle = lipgloss.NewStyle().Bold(true)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().Faint(true)

	// ErrorStyle for error messages.
	ErrorStyle = lipgloss.NewStyle().Bold(true)
)

// FormatPriceWithColor formats a close with an indicator based on the previous day's close.
func FormatPriceWithColor(current, previous decimal.Decimal) string {
	priceStr := current.StringFixed(4)

	if previous.IsZero() {
		return priceStr
	}

	switch current.Cmp(previous) {
	case 1:
		return priceStr + " ▲"
	case -1:
		return priceStr + " ▼"
	default:
		return priceStr
	}
}

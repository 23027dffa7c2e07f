package models

// Level tags an operator-facing progress line.
type Level int

const (
	LevelInfo Level = iota
	LevelOK
	LevelWarn
	LevelFail
	LevelHeading
)

// Printer receives one progress line per completed operation.
type Printer func(level Level, line string)

// DiscardPrinter drops every line.
func DiscardPrinter(Level, string) {}

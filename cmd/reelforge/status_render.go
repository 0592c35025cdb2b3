package main

import (
	"fmt"
	"strings"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const ansiBlue = "\x1b[34m"

var statusStyles = map[statusKind]struct{ tag, color string }{
	statusInfo:  {"info", ansiBlue},
	statusOK:    {"ok", ansiGreen},
	statusWarn:  {"warn", ansiYellow},
	statusError: {"fail", ansiRed},
}

// renderStatusLine lays out one row of a status report: a fixed-width tag,
// the label, then the message.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := statusStyles[kind]
	tag := fmt.Sprintf("%-4s", style.tag)
	if colorize {
		tag = style.color + tag + ansiReset
	}
	return strings.TrimRight(fmt.Sprintf("%s  %-16s %s", tag, label, message), " ")
}

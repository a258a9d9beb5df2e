// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/charmbracelet/lipgloss"
)

// Scribe palette - deep ocean teals and arctic waters
var (
	colorTealBright = lipgloss.Color("#2CD7C7")
	colorTealDeep   = lipgloss.Color("#16858E")
	colorSlate      = lipgloss.Color("#2C4A54")
	colorWarning    = lipgloss.Color("#F4D03F")
	colorError      = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title    lipgloss.Style
	Status   lipgloss.Style
	Muted    lipgloss.Style
	Announce lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Patch    lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Status:   lipgloss.NewStyle().Foreground(colorTealDeep),
	Muted:    lipgloss.NewStyle().Foreground(colorSlate),
	Announce: lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
	Warning:  lipgloss.NewStyle().Foreground(colorWarning),
	Error:    lipgloss.NewStyle().Foreground(colorError),
	Patch: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorTealDeep).
		Padding(0, 1),
}

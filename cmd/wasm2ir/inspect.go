package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasm-ir/ir"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#87CEEB")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const sidebarWidth = 24

func newInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <in.wasm>",
		Short: "Browse the decoded IR interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			codec := opts.codec(logger)
			if !isTerminal(cmd.OutOrStdout()) {
				m, err := decodeFile(codec, args[0])
				if err != nil {
					return err
				}
				return writeModule(cmd.OutOrStdout(), m)
			}
			return runInspector(codec, args[0])
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type inspectModel struct {
	err      error
	codec    *ir.Codec
	module   *ir.Module
	filename string
	view     viewport.Model
	selected int
	ready    bool
}

type loadedMsg struct {
	err    error
	module *ir.Module
}

func newInspectModel(codec *ir.Codec, filename string) *inspectModel {
	return &inspectModel{
		codec:    codec,
		filename: filename,
		view:     viewport.New(80, 20),
	}
}

func (m *inspectModel) Init() tea.Cmd {
	return m.load
}

func (m *inspectModel) load() tea.Msg {
	mod, err := decodeFile(m.codec, m.filename)
	return loadedMsg{module: mod, err: err}
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.refresh()
			}
			return m, nil

		case "down", "j":
			if m.module != nil && m.selected < len(m.module.Sections)-1 {
				m.selected++
				m.refresh()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.view.Width = max(msg.Width-sidebarWidth-6, 10)
		m.view.Height = max(msg.Height-6, 3)

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.module = msg.module
		m.ready = true
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	return m, cmd
}

func (m *inspectModel) refresh() {
	if m.module == nil || len(m.module.Sections) == 0 {
		m.view.SetContent("no sections")
		return
	}
	m.view.SetContent(strings.Join(sectionLines(m.module.Sections[m.selected]), "\n"))
	m.view.GotoTop()
}

func (m *inspectModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if !m.ready {
		return "Decoding module..."
	}

	var side strings.Builder
	for i, s := range m.module.Sections {
		label := fmt.Sprintf("%2d %s", i, s.Name())
		if i == m.selected {
			side.WriteString(selectedStyle.Render("> " + label))
		} else {
			side.WriteString("  " + sectionStyle.Render(label))
		}
		side.WriteString("\n")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("WASM IR Inspector"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Width(sidebarWidth).Render(side.String()),
		paneStyle.Render(m.view.View()),
	))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ section • pgup/pgdn scroll • q quit"))
	return b.String()
}

func runInspector(codec *ir.Codec, filename string) error {
	p := tea.NewProgram(newInspectModel(codec, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

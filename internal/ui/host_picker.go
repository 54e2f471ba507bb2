package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/rx/pkg/sshutil"
)

// hostItem adapts an ssh config entry to list.Item.
type hostItem struct {
	entry sshutil.SSHHostEntry
}

func (i hostItem) Title() string       { return i.entry.Alias }
func (i hostItem) Description() string { return i.entry.Description() }

func (i hostItem) FilterValue() string {
	values := []string{i.entry.Alias}
	if i.entry.Hostname != "" {
		values = append(values, i.entry.Hostname)
	}
	if i.entry.User != "" {
		values = append(values, i.entry.User)
	}
	return strings.Join(values, " ")
}

type hostPickerKeyMap struct {
	Enter  key.Binding
	Manual key.Binding
	Quit   key.Binding
}

var hostPickerKeys = hostPickerKeyMap{
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "select"),
	),
	Manual: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "type a host"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q/esc", "cancel"),
	),
}

// HostPickerModel is a Bubble Tea model listing ~/.ssh/config aliases.
type HostPickerModel struct {
	list     list.Model
	selected *sshutil.SSHHostEntry
	manual   bool
	quitting bool
}

// NewHostPickerModel builds the picker for entries.
func NewHostPickerModel(entries []sshutil.SSHHostEntry) HostPickerModel {
	items := make([]list.Item, len(entries))
	for i, e := range entries {
		items[i] = hostItem{entry: e}
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorPrimary).
		BorderForeground(ColorSecondary)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorMuted)

	l := list.New(items, delegate, 80, 15)
	l.Title = "Which host should rx run commands on?"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true).
		Padding(0, 0, 1, 0)
	l.Styles.HelpStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	l.AdditionalShortHelpKeys = func() []key.Binding {
		return []key.Binding{hostPickerKeys.Manual}
	}

	return HostPickerModel{list: l}
}

// Init implements tea.Model.
func (m HostPickerModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m HostPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// typed characters belong to the filter while it's open
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, hostPickerKeys.Enter):
			if item, ok := m.list.SelectedItem().(hostItem); ok {
				m.selected = &item.entry
			}
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, hostPickerKeys.Manual):
			m.manual = true
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, hostPickerKeys.Quit):
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m HostPickerModel) View() string {
	if m.quitting {
		return ""
	}
	hint := lipgloss.NewStyle().
		Foreground(ColorMuted).
		Render("\n  Press 'm' to type a host instead")
	return m.list.View() + hint
}

// Selected returns the chosen entry, or nil.
func (m HostPickerModel) Selected() *sshutil.SSHHostEntry {
	return m.selected
}

// Manual reports whether the user asked to type a host.
func (m HostPickerModel) Manual() bool {
	return m.manual
}

// PickSSHHost shows the picker and returns the chosen entry. A nil entry with
// cancelled=false means the user wants to type a host; with no entries it
// returns that immediately.
func PickSSHHost(entries []sshutil.SSHHostEntry, in io.Reader, out io.Writer) (entry *sshutil.SSHHostEntry, cancelled bool, err error) {
	if len(entries) == 0 {
		return nil, false, nil
	}

	p := tea.NewProgram(NewHostPickerModel(entries), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return nil, false, fmt.Errorf("host picker: %w", err)
	}

	m, ok := final.(HostPickerModel)
	if !ok {
		return nil, true, nil
	}
	if m.Manual() {
		return nil, false, nil
	}
	if m.Selected() == nil {
		return nil, true, nil
	}
	return m.Selected(), false, nil
}

package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	appTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle  = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle      = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	countBoxStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 4).MarginTop(1)
	countStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	noticeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true).MarginTop(1)
	inputBoxStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	dividerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
)

func (model *Model) View() string {
	switch model.mode {
	case modeMenu:
		return model.renderMenuView()
	case modeEmail, modePassword:
		return model.renderPromptView()
	default:
		return model.renderWatchView()
	}
}

func (model *Model) renderMenuView() string {
	title := appTitleStyle.Render("onlineauth watch")
	subtitle := subtitleStyle.Render("Live count of signed-in users")
	options := []string{
		renderMenuOption("1", "Log in and count me"),
		renderMenuOption("2", "Watch anonymously"),
		renderMenuOption("q", "Quit"),
	}
	sections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}
	if model.notice != "" {
		sections = append(sections, noticeStyle.Render(model.notice))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *Model) renderPromptView() string {
	title := appTitleStyle.Render("Log in")
	hint := "Enter your email and press Enter."
	if model.mode == modePassword {
		hint = fmt.Sprintf("Password for %s.", model.email)
	}
	sections := []string{
		title,
		subtitleStyle.Render(hint),
		inputBoxStyle.Render(model.textInput.View()),
	}
	if model.notice != "" {
		sections = append(sections, noticeStyle.Render(model.notice))
	}
	sections = append(sections, menuHintStyle.Render("Esc to go back"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *Model) renderWatchView() string {
	who := "anonymous"
	if model.cookie != "" {
		who = model.name
		if who == "" {
			who = model.email
		}
	}
	header := headerStyle.Render(strings.Join([]string{"onlineauth", "As " + who, model.cfg.ServerURL}, dividerStyle))

	var status string
	switch {
	case model.connected:
		status = connectedStyle.Render("Connected")
	case model.connErr != nil:
		status = errorStyle.Render("Connection error: " + model.connErr.Error())
	default:
		status = statusStyle.Render(model.spinner.View() + " Connecting…")
	}

	count := "-"
	if model.hasCount {
		count = fmt.Sprintf("%d", model.count)
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		"Online now",
		countStyle.Render(count),
	)
	sections := []string{header, status, countBoxStyle.Render(body)}
	if !model.lastUpdate.IsZero() {
		sections = append(sections, menuHintStyle.Render("Updated "+model.lastUpdate.Format("15:04:05")))
	}
	if model.notice != "" {
		sections = append(sections, noticeStyle.Render(model.notice))
	}
	keys := "r refresh · q quit"
	if model.cookie != "" {
		keys = "r refresh · o log out · q quit"
	}
	sections = append(sections, menuHintStyle.Render(keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

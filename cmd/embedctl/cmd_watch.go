package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func newWatchCmd(baseURL *string) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live-refresh dashboard of server status (worker pool, cache, queue depth)",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newWatchModel(*baseURL, interval)
			_, err := tea.NewProgram(m).Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}

type tickMsg time.Time

type statusMsg struct {
	status statusView
	err    error
}

type watchModel struct {
	client   *apiClient
	interval time.Duration
	spinner  spinner.Model
	status   statusView
	err      error
}

func newWatchModel(baseURL string, interval time.Duration) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return watchModel{client: newAPIClient(baseURL), interval: interval, spinner: s}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchStatus(), m.tick())
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var s statusView
		err := m.client.get(ctx, "/status", &s)
		return statusMsg{status: s, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.fetchStatus(), m.tick())
	case statusMsg:
		m.status = msg.status
		m.err = msg.err
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

var (
	watchLabelStyle = lipgloss.NewStyle().Bold(true).Width(16)
	watchErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func (m watchModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("%s %s\n\n%s\npress q to quit\n", m.spinner.View(), "fetching status failed", watchErrStyle.Render(m.err.Error()))
	}
	s := m.status
	rows := []string{
		watchLabelStyle.Render("model") + s.ModelID,
		watchLabelStyle.Render("pool ready") + fmt.Sprintf("%t", s.PoolReady),
		watchLabelStyle.Render("workers") + fmt.Sprintf("%d", s.WorkerCount),
		watchLabelStyle.Render("queue depth") + fmt.Sprintf("%d", s.QueueDepth),
		watchLabelStyle.Render("cache") + fmt.Sprintf("%d / %d", s.CacheLiveCount, s.CacheCapacity),
		watchLabelStyle.Render("clients") + fmt.Sprintf("%d", s.TotalClients),
		watchLabelStyle.Render("shutdown") + s.ShutdownState,
	}
	out := fmt.Sprintf("%s embedctl watch — %s\n\n", m.spinner.View(), s.Status)
	for _, r := range rows {
		out += r + "\n"
	}
	out += "\npress q to quit\n"
	return out
}

package ui

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
	"github.com/xeonx/timeago"

	"github.com/helvethink/deployment-orchestrator/pkg/monitor"
	"github.com/helvethink/deployment-orchestrator/pkg/monitor/client"
)

type tab string

const (
	tabTelemetry tab = "telemetry"
	tabConfig    tab = "config"
)

var tabs = [...]tab{
	tabTelemetry,
	tabConfig,
}

// model is the bubbletea model behind the monitoring UI. It polls the
// orchestrator's internal listener and renders the received telemetry.
type model struct {
	version         string
	client          *client.Client
	vp              viewport.Model
	progress        *progress.Model
	telemetry       *monitor.Telemetry
	telemetryStream chan monitor.Telemetry
	tabID           int
}

func newModel(version string, endpoint *url.URL) *model {
	p := progress.NewModel(progress.WithScaledGradient("#80c904", "#ff9d5c"))

	return &model{
		version:         version,
		vp:              viewport.Model{},
		telemetryStream: make(chan monitor.Telemetry),
		progress:        &p,
		client:          client.NewClient(endpoint),
	}
}

// Start runs the monitoring UI until the user quits.
func Start(version string, listenerAddress *url.URL) {
	if err := tea.NewProgram(
		newModel(version, listenerAddress),
		tea.WithAltScreen(),
	).Start(); err != nil {
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(
		m.pollTelemetry(context.TODO()),
		waitForTelemetryUpdate(m.telemetryStream),
	)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.vp.Height = msg.Height - 4
		m.progress.Width = msg.Width - 27
		m.setPaneContent()

		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyLeft:
			if m.tabID > 0 {
				m.tabID--
				m.setPaneContent()
			}

			return m, nil
		case tea.KeyRight:
			if m.tabID < len(tabs)-1 {
				m.tabID++
				m.setPaneContent()
			}

			return m, nil
		case tea.KeyUp, tea.KeyDown, tea.KeyPgDown, tea.KeyPgUp:
			vp, cmd := m.vp.Update(msg)
			m.vp = vp

			return m, cmd
		}
	case monitor.Telemetry:
		m.telemetry = &msg
		m.setPaneContent()

		return m, waitForTelemetryUpdate(m.telemetryStream)
	}

	return m, nil
}

func (m *model) View() string {
	doc := strings.Builder{}
	doc.WriteString(m.renderTabBar() + "\n")
	doc.WriteString(m.vp.View() + "\n")
	doc.WriteString(m.renderStatusBar())

	return docStyle.Render(doc.String())
}

func (m *model) renderTabBar() string {
	renderedTabs := make([]string, 0, len(tabs))

	for tabID, t := range tabs {
		style := inactiveTab
		if m.tabID == tabID {
			style = activeTab
		}

		renderedTabs = append(renderedTabs, style.Render(string(t)))
	}

	row := lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...)
	gap := tabGap.Render(strings.Repeat(" ", max(0, m.vp.Width-lipgloss.Width(row))))

	return lipgloss.JoinHorizontal(lipgloss.Bottom, row, gap)
}

func (m *model) renderStatusBar() string {
	bar := lipgloss.JoinHorizontal(lipgloss.Top,
		statusStyle.Render("github.com/helvethink/deployment-orchestrator"),
		statusText.Copy().
			Width(max(0, m.vp.Width-(61+len(m.version)))).
			Render(""),
		versionStyle.Render(m.version),
	)

	return statusBarStyle.Width(m.vp.Width).Render(bar)
}

func (m *model) setPaneContent() {
	switch tabs[m.tabID] {
	case tabTelemetry:
		m.vp.SetContent(m.renderTelemetryViewport())
	case tabConfig:
		m.vp.SetContent(m.renderConfigViewport())
	}
}

func (m *model) renderConfigViewport() string {
	config, err := m.client.GetConfig(context.TODO())
	if err != nil {
		log.WithError(err).Fatal()
	}

	return config
}

func (m *model) renderTelemetryViewport() string {
	if m.telemetry == nil {
		return "\nloading data.."
	}

	gitlabVersion := m.telemetry.GitlabVersion
	if gitlabVersion == "" {
		gitlabVersion = "N/A"
	}

	rows := []string{
		"",
		m.textRow(" GitLab version         ", gitlabVersion),
		m.gaugeRow(" GitLab API usage        ", m.telemetry.GitlabAPIUsage),
		m.counterRow(" GitLab API requests    ", int(m.telemetry.GitlabAPIRequestsCount)),
		m.gaugeRow(" GitLab API limit usage  ", m.telemetry.GitlabAPIRateLimit),
		m.counterRow(" GitLab API limit requests remaining ", m.telemetry.GitlabAPILimitRemaining),
		m.gaugeRow(" Tasks buffer usage      ", m.telemetry.TasksBufferUsage),
		m.counterRow(" Tasks executed         ", int(m.telemetry.TasksExecutedCount)),
		renderEntity("Deployment records", m.telemetry.Records),
		renderEntity("Releases", m.telemetry.Releases),
		renderEntity("Refs", m.telemetry.Refs),
		renderEntity("Metrics", m.telemetry.Metrics),
	}

	return strings.Join(rows, "\n")
}

func (m *model) gaugeRow(label string, ratio float64) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, label, m.progress.ViewAs(ratio), "\n")
}

func (m *model) counterRow(label string, value int) string {
	return m.textRow(label, strconv.Itoa(value))
}

func (m *model) textRow(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, label, dataStyle.SetString(value).String(), "\n")
}

func renderEntity(name string, e monitor.Entity) string {
	return entityStyle.Render(lipgloss.JoinHorizontal(
		lipgloss.Top,
		" "+name+strings.Repeat(" ", 24-len(name)),
		lipgloss.JoinVertical(
			lipgloss.Left,
			"Total      "+dataStyle.SetString(strconv.Itoa(int(e.Count))).String()+"\n",
			"Last GC    "+dataStyle.SetString(prettyTimeago(e.LastGC)).String()+"\n",
			"Next GC    "+dataStyle.SetString(prettyTimeago(e.NextGC)).String()+"\n",
		),
		"\n",
	))
}

func prettyTimeago(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}

	return timeago.English.Format(t)
}

// pollTelemetry fetches a telemetry snapshot every second and feeds it into
// the update loop.
func (m *model) pollTelemetry(ctx context.Context) tea.Cmd {
	fetch := func() {
		telemetry, err := m.client.GetTelemetry(ctx)
		if err != nil {
			log.WithError(err).Fatal()
		}

		m.telemetryStream <- telemetry
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		fetch()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fetch()
			}
		}
	}()

	return nil
}

func waitForTelemetryUpdate(t chan monitor.Telemetry) tea.Cmd {
	return func() tea.Msg {
		return <-t
	}
}

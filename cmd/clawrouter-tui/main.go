// Command clawrouter-tui is a terminal dashboard for a running router: tier
// distribution, per-model health, sessions, and the savings report, polled
// from the admin API.
//
// Usage:
//
//	clawrouter-tui --api http://localhost:8787 --token $(clawrouter token)
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#06B6D4")
	mutedColor     = lipgloss.Color("#6B7280")
	successColor   = lipgloss.Color("#10B981")
	errorColor     = lipgloss.Color("#EF4444")
	warnColor      = lipgloss.Color("#F59E0B")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	sidebarStyle = lipgloss.NewStyle().
			Width(34).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 1)

	sidebarTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	mainBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	metricStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			PaddingLeft(2)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	statusHealthy  = lipgloss.NewStyle().Foreground(successColor)
	statusDegraded = lipgloss.NewStyle().Foreground(warnColor)
	statusDown     = lipgloss.NewStyle().Foreground(errorColor)
)

// healthRecord mirrors the admin API's per-model health JSON.
type healthRecord struct {
	Model             string         `json:"model"`
	Status            string         `json:"status"`
	TotalRequests     int64          `json:"totalRequests"`
	SuccessRate       float64        `json:"successRate"`
	AvgLatencyMs      float64        `json:"avgLatencyMs"`
	P95LatencyMs      float64        `json:"p95LatencyMs"`
	ConsecutiveErrors int            `json:"consecutiveErrors"`
	ErrorTypes        map[string]int `json:"errorTypes"`
}

type healthStats struct {
	Models map[string]healthRecord `json:"models"`
}

type usageSummary struct {
	Decisions int `json:"decisions"`
	CacheHits int `json:"cacheHits"`
	Ambiguous int `json:"ambiguous"`
	ByTier    []struct {
		Tier  string `json:"tier"`
		Count int    `json:"count"`
	} `json:"byTier"`
}

type statsPayload struct {
	Engine  json.RawMessage `json:"engine"`
	Savings string          `json:"savings"`
	Usage   *usageSummary   `json:"usage"`
}

type statsMsg struct {
	stats  *statsPayload
	health *healthStats
	err    error
}

type tickMsg struct{}

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *client) fetch() tea.Msg {
	var stats statsPayload
	if err := c.get("/api/stats", &stats); err != nil {
		return statsMsg{err: err}
	}
	var health healthStats
	if err := c.get("/api/health", &health); err != nil {
		return statsMsg{err: err}
	}
	return statsMsg{stats: &stats, health: &health}
}

type model struct {
	client  *client
	main    viewport.Model
	stats   *statsPayload
	health  *healthStats
	lastErr error
	updated time.Time
	width   int
	height  int
	ready   bool
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), tickCmd())
}

func (m model) fetchCmd() tea.Cmd {
	return func() tea.Msg { return m.client.fetch() }
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		}

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), tickCmd())

	case statsMsg:
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.lastErr = nil
			m.stats = msg.stats
			m.health = msg.health
			m.updated = time.Now()
		}
		if m.ready {
			m.main.SetContent(m.renderMain())
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		mainW := m.width - 37
		mainH := m.height - 4
		if !m.ready {
			m.main = viewport.New(mainW, mainH)
			m.ready = true
		} else {
			m.main.Width = mainW
			m.main.Height = mainH
		}
		m.main.SetContent(m.renderMain())
	}

	var cmd tea.Cmd
	m.main, cmd = m.main.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "Connecting to router..."
	}

	status := statusHealthy.Render("● CONNECTED")
	if m.lastErr != nil {
		status = statusDown.Render("● " + m.lastErr.Error())
	}
	header := headerStyle.Width(m.width).Render("  ClawRouter Dashboard  " + status)

	sidebar := m.renderSidebar()
	mainPane := mainBorder.Width(m.width - 37).Render(m.main.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", mainPane)

	footer := footerStyle.Render("  r: refresh │ ↑↓: scroll │ q: quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m model) renderSidebar() string {
	var sb strings.Builder

	sb.WriteString(sidebarTitle.Render("  Models"))
	sb.WriteString("\n")

	if m.health == nil || len(m.health.Models) == 0 {
		sb.WriteString(metricStyle.Render("no traffic yet"))
		sb.WriteString("\n")
	} else {
		names := make([]string, 0, len(m.health.Models))
		for name := range m.health.Models {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			rec := m.health.Models[name]
			var indicator string
			switch rec.Status {
			case "healthy":
				indicator = statusHealthy.Render("●")
			case "degraded":
				indicator = statusDegraded.Render("◉")
			default:
				indicator = statusDown.Render("○")
			}
			sb.WriteString(fmt.Sprintf("  %s %s\n", indicator, labelStyle.Render(name)))
			sb.WriteString(metricStyle.Render(fmt.Sprintf("reqs: %d  ok: %.0f%%", rec.TotalRequests, rec.SuccessRate*100)))
			sb.WriteString("\n")
			sb.WriteString(metricStyle.Render(fmt.Sprintf("avg: %.0fms  p95: %.0fms", rec.AvgLatencyMs, rec.P95LatencyMs)))
			sb.WriteString("\n")
			if rec.ConsecutiveErrors > 0 {
				sb.WriteString(metricStyle.Render(fmt.Sprintf("errors: %d in a row", rec.ConsecutiveErrors)))
				sb.WriteString("\n")
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString(sidebarTitle.Render("  Router"))
	sb.WriteString("\n")
	if m.stats != nil && m.stats.Usage != nil {
		u := m.stats.Usage
		sb.WriteString(metricStyle.Render(fmt.Sprintf("decisions: %d", u.Decisions)))
		sb.WriteString("\n")
		sb.WriteString(metricStyle.Render(fmt.Sprintf("cache hits: %d", u.CacheHits)))
		sb.WriteString("\n")
		sb.WriteString(metricStyle.Render(fmt.Sprintf("ambiguous: %d", u.Ambiguous)))
		sb.WriteString("\n")
	}
	if !m.updated.IsZero() {
		sb.WriteString(metricStyle.Render("updated: " + m.updated.Format("15:04:05")))
		sb.WriteString("\n")
	}

	return sidebarStyle.Height(m.height - 4).Render(sb.String())
}

func (m model) renderMain() string {
	if m.stats == nil {
		return lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(1).
			Render("Waiting for stats...")
	}

	var sb strings.Builder

	if m.stats.Usage != nil && len(m.stats.Usage.ByTier) > 0 {
		sb.WriteString(sidebarTitle.Render(" Tier distribution (24h)"))
		sb.WriteString("\n")
		total := 0
		for _, tc := range m.stats.Usage.ByTier {
			total += tc.Count
		}
		for _, tc := range m.stats.Usage.ByTier {
			frac := float64(tc.Count) / float64(total)
			bar := strings.Repeat("█", int(frac*30))
			sb.WriteString(fmt.Sprintf(" %-10s %s %d (%.0f%%)\n",
				tc.Tier, lipgloss.NewStyle().Foreground(secondaryColor).Render(bar), tc.Count, frac*100))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(sidebarTitle.Render(" Savings"))
	sb.WriteString("\n")
	sb.WriteString(m.stats.Savings)
	sb.WriteString("\n")

	return sb.String()
}

func main() {
	apiURL := flag.String("api", "http://localhost:8787", "ClawRouter API URL")
	token := flag.String("token", os.Getenv("CLAWROUTER_TOKEN"), "Admin API token")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "admin token required: pass --token or set CLAWROUTER_TOKEN")
		fmt.Fprintln(os.Stderr, "mint one with: clawrouter token")
		os.Exit(1)
	}

	m := model{
		client: &client{
			baseURL: strings.TrimRight(*apiURL, "/"),
			token:   *token,
			http:    &http.Client{Timeout: 10 * time.Second},
		},
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/command"
	"github.com/gwillem/armctl/pkg/robot"
	"github.com/gwillem/armctl/pkg/server"
	"github.com/gwillem/armctl/pkg/teleop"
)

type JogCommand struct {
	ServiceAddr
	Hz    int `long:"hz" default:"20" description:"Jog frequency"`
	Speed int `short:"s" long:"speed" description:"Jog speed (default from service)"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 8 // key help + log box
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border

	// releaseAfter must exceed the terminal's key repeat interval.
	releaseAfter = 150 * time.Millisecond
)

type jogKey struct {
	joint robot.JointID
	dir   robot.Direction
}

// Two keys per joint, top row increases and home row decreases.
var jogKeys = map[string]jogKey{
	"q": {robot.Base, robot.Increase}, "a": {robot.Base, robot.Decrease},
	"w": {robot.Shoulder, robot.Increase}, "s": {robot.Shoulder, robot.Decrease},
	"e": {robot.Elbow, robot.Increase}, "d": {robot.Elbow, robot.Decrease},
	"r": {robot.Wrist, robot.Increase}, "f": {robot.Wrist, robot.Decrease},
	"t": {robot.Hand, robot.Increase}, "g": {robot.Hand, robot.Decrease},
	"y": {robot.Thumb, robot.Increase}, "h": {robot.Thumb, robot.Decrease},
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type jogModel struct {
	ctrl     *teleop.Controller
	client   *server.Client
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	quitting bool
	// last key press per joint, used to release when repeats stop
	pressed map[robot.JointID]time.Time
}

func (m *jogModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg teleop.State
type logMsg string
type releaseMsg struct {
	joint robot.JointID
	at    time.Time
}
type responseMsg command.Response

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func (m *jogModel) send(c command.Command) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Send(context.Background(), c)
		if err != nil {
			return responseMsg(command.Failure(err))
		}
		return responseMsg(resp)
	}
}

func (m *jogModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *jogModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialJogModel(ctrl *teleop.Controller, client *server.Client) jogModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(robot.EncoderMin, robot.EncoderMax),
	)
	for _, j := range robot.AllJoints() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[j.ID]))
		chart.SetDataSetStyles(j.Name, runes.ThinLineStyle, style)
	}

	return jogModel{
		ctrl:    ctrl,
		client:  client,
		chart:   &chart,
		pressed: make(map[robot.JointID]time.Time),
	}
}

func (m jogModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m jogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		if k, ok := jogKeys[key]; ok {
			now := time.Now()
			m.pressed[k.joint] = now
			m.ctrl.Hold(robot.MustJoint(k.joint), k.dir)
			return m, tea.Tick(releaseAfter, func(time.Time) tea.Msg {
				return releaseMsg{joint: k.joint, at: now}
			})
		}
		switch key {
		case " ":
			m.ctrl.ReleaseAll()
			return m, m.send(command.StopAll{})
		case "H":
			return m, m.send(command.Home{})
		case "1":
			return m, m.send(command.Toggle{Joint: robot.MustJoint(robot.Hand)})
		case "2":
			return m, m.send(command.Toggle{Joint: robot.MustJoint(robot.Thumb)})
		case "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case releaseMsg:
		// A newer press means the key is still held.
		if m.pressed[msg.joint].Equal(msg.at) {
			m.ctrl.Release(robot.MustJoint(msg.joint))
			delete(m.pressed, msg.joint)
		}
		return m, nil

	case responseMsg:
		m.addLog(fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), msg.Message))
		return m, nil

	case stateMsg:
		state := teleop.State(msg)
		if len(state.Positions) > 0 {
			for id, pos := range state.Positions {
				m.chart.PushDataSet(robot.MustJoint(id).Name, float64(pos))
			}
			m.chart.DrawAll()
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m jogModel) View() string {
	if m.quitting {
		return "Jogging stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("armctl jog"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	sb.WriteString(statusStyle.Render("q/a base  w/s shoulder  e/d elbow  r/f wrist  t/g hand  y/h thumb"))
	sb.WriteString("\n")
	sb.WriteString(statusStyle.Render("space stop all  H home  1 toggle hand  2 toggle thumb  esc quit"))
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4)

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Hold a key to jog")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, j := range robot.AllJoints() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[j.ID])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+j.Name)
	}
	return strings.Join(items, "  ")
}

func (c *JogCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := server.NewClient(c.resolve(cfg), c.Timeout)
	defer client.Close()

	ctrl := teleop.NewController(client.Send, teleop.Config{Hz: c.Hz, Speed: c.Speed})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Start(ctx); err != nil && err != context.Canceled {
			log.Errorf("jog controller: %v", err)
		}
	}()

	p := tea.NewProgram(initialJogModel(ctrl, client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	cancel()
	<-done
	return nil
}

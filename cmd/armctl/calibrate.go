package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"

	"github.com/gwillem/armctl/pkg/calibrate"
	"github.com/gwillem/armctl/pkg/robot"
)

type CalibrateCommand struct {
	Joints   []string `short:"j" long:"joint" description:"Only calibrate this joint (repeatable)"`
	Simulate bool     `long:"simulate" description:"Calibrate a simulated arm"`
	Yes      bool     `short:"y" long:"yes" description:"Do not ask for confirmation"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var ids []robot.JointID
	for _, name := range c.Joints {
		j, ok := robot.JointByName(name)
		if !ok {
			return errors.Errorf("unknown joint %q", name)
		}
		ids = append(ids, j.ID)
	}

	fmt.Println(headerStyle.Render("Arm Calibration"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━"))
	fmt.Println()

	if !c.Yes && !confirm("Each joint will be driven into its mechanical limits. Keep the area around the arm clear.") {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	link, err := openLink(ctx, cfg, c.Simulate)
	if err != nil {
		return err
	}
	defer link.Close()

	store := robot.NewStore(cfg.CalibrationFile)
	orch := calibrate.NewOrchestrator(link, store, cfg.Calibration)

	model := newCalibrationModel(ids)
	p := tea.NewProgram(model)
	orch.OnProgress = func(pr calibrate.Progress) {
		p.Send(progressMsg(pr))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		var (
			cal robot.Calibration
			err error
		)
		if len(ids) > 0 {
			cal, err = orch.RunJoints(runCtx, ids...)
		} else {
			cal, err = orch.Run(runCtx)
		}
		p.Send(doneMsg{cal: cal, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return errors.Wrap(err, "run calibration view")
	}
	cancel()
	<-finished

	cm := finalModel.(calibrationModel)
	fmt.Println()
	if cm.err != nil {
		fmt.Println(errorStyle.Render("Calibration failed: " + cm.err.Error()))
		return cm.err
	}
	if !cm.done {
		fmt.Println(errorStyle.Render("Calibration aborted."))
		return nil
	}
	fmt.Println(successStyle.Render("Calibration complete!"))
	fmt.Printf("Saved to %s\n", store.Path())
	return nil
}

func confirm(prompt string) bool {
	fmt.Println(prompt)
	ok := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Start calibration?").
				Affirmative("Start").
				Negative("Cancel").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		return false
	}
	return ok
}

type progressMsg calibrate.Progress

type doneMsg struct {
	cal robot.Calibration
	err error
}

type jointRow struct {
	phase    calibrate.Phase
	min, max int
	fallback bool
}

// Calibration TUI model
type calibrationModel struct {
	joints []robot.Joint
	rows   map[robot.JointID]*jointRow
	done   bool
	err    error
}

func newCalibrationModel(ids []robot.JointID) calibrationModel {
	joints := robot.AllJoints()
	if len(ids) > 0 {
		joints = joints[:0:0]
		for _, id := range ids {
			joints = append(joints, robot.MustJoint(id))
		}
	}
	rows := make(map[robot.JointID]*jointRow, len(joints))
	for _, j := range joints {
		rows[j.ID] = &jointRow{}
	}
	return calibrationModel{joints: joints, rows: rows}
}

func (m calibrationModel) Init() tea.Cmd {
	return nil
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case progressMsg:
		row, ok := m.rows[msg.Joint.ID]
		if !ok {
			return m, nil
		}
		row.phase = msg.Phase
		switch msg.Phase {
		case calibrate.PhaseMinimum:
			row.min = msg.Position
			row.fallback = row.fallback || msg.Fallback
		case calibrate.PhaseMaximum:
			row.max = msg.Position
			row.fallback = row.fallback || msg.Fallback
		case calibrate.PhaseDone:
			row.min, row.max = msg.Entry.Min, msg.Entry.Max
		}
		return m, nil

	case doneMsg:
		m.done = msg.err == nil
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m calibrationModel) View() string {
	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableJointStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableDoneStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableWarnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)

	rows := make([][]string, 0, len(m.joints))
	for _, j := range m.joints {
		r := m.rows[j.ID]
		status := string(r.phase)
		if status == "" {
			status = "waiting"
		}
		if r.fallback {
			status += " (nominal)"
		}
		rows = append(rows, []string{
			j.Name,
			status,
			cell(r.min),
			cell(r.max),
			cell(r.max - r.min),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Phase", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableJointStyle
			case 1:
				if row >= 0 && row < len(m.joints) {
					r := m.rows[m.joints[row].ID]
					if r.fallback {
						return tableWarnStyle
					}
					if r.phase == calibrate.PhaseDone {
						return tableDoneStyle
					}
				}
				return tableCellStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press q to abort"))
	sb.WriteString("\n")
	return sb.String()
}

func cell(v int) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", v)
}

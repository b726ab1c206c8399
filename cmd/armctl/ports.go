package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"

	"github.com/gwillem/armctl/pkg/robot"
)

type PortsCommand struct {
	Probe    bool `short:"p" long:"probe" description:"Only list ports where servos 1-6 answer"`
	Identify bool `short:"i" long:"identify" description:"Wiggle each arm and save the one you pick"`
}

func (c *PortsCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	serial := cfg.Serial.WithDefaults()
	ctx := context.Background()

	fmt.Println(headerStyle.Render("Serial ports"))
	fmt.Println()

	ports, err := robot.FindArms(ctx, robot.DiscoverOptions{
		Probe:    c.Probe || c.Identify,
		BaudRate: serial.BaudRate,
		Timeout:  serial.Timeout.Duration,
	})
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No arm controllers found.")
		fmt.Println("Make sure the arm is connected and powered on.")
		return robot.ErrNoArm
	}

	fmt.Println(renderPorts(ports, cfg.Serial.Port))
	if !c.Identify {
		return nil
	}

	for _, p := range ports {
		fmt.Printf("\n  Wiggling arm on %s...\n", p.Name)
		s := serial
		s.Port = p.Name
		if err := wiggle(ctx, s); err != nil {
			fmt.Println(errorStyle.Render("  " + err.Error()))
			continue
		}

		use := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Use the arm on %s?", p.Name)).
					Description("The arm that just wiggled").
					Affirmative("Use it").
					Negative("Next").
					Value(&use),
			),
		)
		if err := form.Run(); err != nil {
			return errors.Wrap(err, "identify arm")
		}
		if !use {
			continue
		}

		cfg.Serial.Port = p.Name
		if err := cfg.SaveTo(opts.Config); err != nil {
			return errors.Wrap(err, "save config")
		}
		fmt.Println()
		fmt.Println(successStyle.Render("Arm port saved to " + opts.Config))
		return nil
	}

	fmt.Println()
	fmt.Println("No arm selected.")
	return nil
}

func renderPorts(ports []robot.PortInfo, current string) string {
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)

	rows := make([][]string, 0, len(ports))
	for _, p := range ports {
		servos := "-"
		if len(p.Servos) > 0 {
			ids := make([]string, len(p.Servos))
			for i, id := range p.Servos {
				ids[i] = fmt.Sprintf("%d", id)
			}
			servos = strings.Join(ids, ",")
		}
		name := p.Name
		if p.Name == current {
			name += " *"
		}
		rows = append(rows, []string{name, p.Product, p.SerialNumber, servos})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Port", "Product", "Serial", "Servos").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if row >= 0 && row < len(ports) && ports[row].Name == current {
				return tableCurrentStyle
			}
			return tableCellStyle
		}).
		Render()
}

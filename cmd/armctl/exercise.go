package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"

	"github.com/gwillem/armctl/pkg/command"
	"github.com/gwillem/armctl/pkg/robot"
	"github.com/gwillem/armctl/pkg/server"
)

type ExerciseCommand struct {
	ServiceAddr
	Joints  []string      `short:"j" long:"joint" description:"Only exercise this joint (repeatable)"`
	MoveFor time.Duration `long:"move-for" default:"2s" description:"How long to let each limit move run"`
	Pause   time.Duration `long:"pause" default:"1s" description:"Pause after each stop"`
}

func (c *ExerciseCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var joints []robot.Joint
	for _, name := range c.Joints {
		j, ok := robot.JointByName(name)
		if !ok {
			return errors.Errorf("unknown joint %q", name)
		}
		joints = append(joints, j)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := server.NewClient(c.resolve(cfg), c.Timeout)
	defer client.Close()

	fmt.Println(headerStyle.Render("Exercising joints"))
	fmt.Println()

	err = command.Exercise(ctx, client.Send, command.ExerciseOptions{
		Joints:  joints,
		MoveFor: c.MoveFor,
		Pause:   c.Pause,
		OnStep: func(cmd command.Command, resp command.Response) {
			j, _ := command.Motor(cmd)
			line := fmt.Sprintf("%-10s %-9s %s", cmd.Name(), j.Name, resp.Message)
			if resp.Success {
				fmt.Println(successStyle.Render("✓ ") + line)
			} else {
				fmt.Println(errorStyle.Render("✗ ") + line)
			}
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			client.Send(context.Background(), command.StopAll{})
			return nil
		}
		return err
	}

	fmt.Println()
	fmt.Println(successStyle.Render("All joints exercised."))
	return nil
}

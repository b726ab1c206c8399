package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/gwillem/armctl/pkg/command"
	"github.com/gwillem/armctl/pkg/server"
)

type SendCommand struct {
	ServiceAddr
	Speed int    `short:"s" long:"speed" description:"Speed for moves (default from service)"`
	Raw   string `long:"json" description:"Send this JSON object verbatim"`
	Args  struct {
		Command string `positional-arg-name:"command" description:"move, move_limit, move_to, toggle, stop, stop_all, home or status"`
		Motor   string `positional-arg-name:"motor"`
		Value   string `positional-arg-name:"direction|position"`
	} `positional-args:"yes"`
}

func (c *SendCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	raw := []byte(c.Raw)
	if c.Raw == "" {
		req, err := c.request()
		if err != nil {
			return err
		}
		if _, err := command.Parse(req); err != nil {
			return err
		}
		raw, err = json.Marshal(req)
		if err != nil {
			return err
		}
	}

	client := server.NewClient(c.resolve(cfg), c.Timeout)
	defer client.Close()

	resp, err := client.SendRaw(context.Background(), raw)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	if resp.Success {
		fmt.Println(successStyle.Render(resp.Message))
	} else {
		fmt.Println(errorStyle.Render(resp.Message))
	}
	fmt.Println(dimStyle.Render(string(out)))
	if !resp.Success {
		return errors.New("command failed")
	}
	return nil
}

func (c *SendCommand) request() (command.Request, error) {
	if c.Args.Command == "" {
		return command.Request{}, errors.New("missing command")
	}
	req := command.Request{
		Command: c.Args.Command,
		Motor:   c.Args.Motor,
		Speed:   c.Speed,
	}
	if c.Args.Value == "" {
		return req, nil
	}
	if req.Command == command.NameMoveTo {
		pos, err := strconv.Atoi(c.Args.Value)
		if err != nil {
			return req, errors.Errorf("invalid position %q", c.Args.Value)
		}
		req.Position = &pos
		return req, nil
	}
	req.Direction = c.Args.Value
	return req, nil
}

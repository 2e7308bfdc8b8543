package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/EelcoLos/iframe-dnd-demo-sub000/relay"
)

var errEmptyCommand = errors.New("empty command")

// command is one line typed into the agent:
//
//	<type> [json]
//	to <window> <type> [json]
type command struct {
	target relay.WindowID
	typ    relay.MessageType
	data   json.RawMessage
}

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmptyCommand
	}

	var cmd command
	head, rest := cut(line)
	if head == "to" {
		target, tail := cut(rest)
		if target == "" {
			return command{}, fmt.Errorf("missing target window")
		}
		cmd.target = relay.WindowID(target)
		head, rest = cut(tail)
	}
	if head == "" {
		return command{}, fmt.Errorf("missing message type")
	}
	cmd.typ = relay.MessageType(head)

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return command{}, fmt.Errorf("invalid JSON payload: %s", rest)
		}
		cmd.data = json.RawMessage(rest)
	}
	return cmd, nil
}

func cut(s string) (string, string) {
	head, rest, _ := strings.Cut(strings.TrimSpace(s), " ")
	return head, strings.TrimSpace(rest)
}

func (c command) send(mgr *relay.Manager) error {
	if c.target != "" {
		return mgr.SendTo(c.target, c.typ, c.data)
	}
	return mgr.Broadcast(c.typ, c.data)
}

package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fentz26/dqmote/internal/mac"
)

// command is one parsed line of the input box.
type command struct {
	name  string
	start StartRequest
	arg   string
}

// parseCommand parses the input box. Start lines take the form
//
//	start [source] <dq|fsa> [slots=N] [rounds=N] [duration=N] [nodes=N] [seed=N] [loss=F]
//
// with source defaulting to "sim".
func parseCommand(input string) (command, error) {
	parts := strings.Fields(strings.TrimPrefix(strings.TrimSpace(input), "/"))
	if len(parts) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	cmd := command{name: parts[0]}
	args := parts[1:]

	switch cmd.name {
	case "start":
		req, err := parseStart(args)
		if err != nil {
			return command{}, err
		}
		cmd.start = req
	case "filter":
		if len(args) > 0 {
			cmd.arg = args[0]
		}
		if cmd.arg == "all" {
			cmd.arg = ""
		}
	case "stop", "open":
		if len(args) > 0 {
			cmd.arg = strings.TrimPrefix(args[0], "@")
		}
	case "refresh", "q", "quit", "exit":
	default:
		return command{}, fmt.Errorf("unknown: %s (try: start, stop, open, filter)", cmd.name)
	}
	return cmd, nil
}

func parseStart(args []string) (StartRequest, error) {
	req := StartRequest{Source: "sim", Slots: 4}
	if len(args) > 0 && !strings.Contains(args[0], "=") && !isProtocol(args[0]) {
		req.Source = args[0]
		args = args[1:]
	}
	if len(args) == 0 {
		return req, fmt.Errorf("usage: start [source] <dq|fsa> [slots=N] [rounds=N] [duration=N]")
	}
	t, _ := mac.ParseType(args[0])
	if t == mac.TypeNone {
		return req, fmt.Errorf("unknown protocol %q", args[0])
	}
	req.Protocol = t.String()

	for _, kv := range args[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return req, fmt.Errorf("expected key=value, got %q", kv)
		}
		var err error
		switch key {
		case "slots":
			var n uint64
			n, err = strconv.ParseUint(value, 10, 8)
			req.Slots = uint8(n)
		case "duration":
			var n uint64
			n, err = strconv.ParseUint(value, 10, 16)
			req.Duration = uint16(n)
		case "rounds":
			req.Rounds, err = strconv.Atoi(value)
		case "nodes":
			req.Nodes, err = strconv.Atoi(value)
		case "seed":
			req.Seed, err = strconv.ParseInt(value, 10, 64)
		case "loss":
			req.Loss, err = strconv.ParseFloat(value, 64)
		default:
			return req, fmt.Errorf("unknown option %q", key)
		}
		if err != nil {
			return req, fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return req, nil
}

func isProtocol(s string) bool {
	t, _ := mac.ParseType(s)
	return t != mac.TypeNone
}

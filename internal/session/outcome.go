package session

import (
	"fmt"
	"log/slog"
	"strings"
)

// Command names accepted by Dispatch.
const (
	CmdEnter  = "enter"
	CmdCancel = "cancel"
	CmdExit   = "exit"
	CmdPause  = "pause"
	CmdDebug  = "debug"
	CmdReset  = "reset"
)

// Commands lists the command names accepted by Dispatch.
var Commands = []string{CmdEnter, CmdCancel, CmdExit, CmdPause, CmdDebug, CmdReset}

// Outcome is the result of a user command. Rejections are expected
// outcomes of the state machine guards, not errors.
type Outcome struct {
	Command  string `json:"command"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

func (o Outcome) String() string {
	if o.Accepted {
		return fmt.Sprintf("%s: %s", o.Command, o.Message)
	}
	return fmt.Sprintf("%s rejected: %s", o.Command, o.Message)
}

func (s *Session) accept(cmd, msg string) Outcome {
	s.log.Info("command accepted", slog.String("command", cmd), slog.String("result", msg))
	return Outcome{Command: cmd, Accepted: true, Message: msg}
}

func (s *Session) reject(cmd, reason string) Outcome {
	s.log.Debug("command rejected", slog.String("command", cmd), slog.String("reason", reason))
	return Outcome{Command: cmd, Accepted: false, Message: reason}
}

// Dispatch routes a command by name. arg carries the entry kind for
// "enter" and the exit result for "exit" and is ignored otherwise.
// A non-nil error means the input itself was invalid; the returned Outcome
// is then a rejection describing it.
func (s *Session) Dispatch(command, arg string) (Outcome, error) {
	command = strings.ToLower(strings.TrimSpace(command))
	switch command {
	case CmdEnter:
		kind, err := ParseEntryKind(arg)
		if err != nil {
			return Outcome{Command: command, Message: err.Error()}, err
		}
		return s.Enter(kind), nil
	case CmdCancel:
		return s.Cancel(), nil
	case CmdExit:
		result, err := ParseExitResult(arg)
		if err != nil {
			return Outcome{Command: command, Message: err.Error()}, err
		}
		return s.Exit(result), nil
	case CmdPause:
		return s.TogglePause(), nil
	case CmdDebug:
		return s.ToggleDebug(), nil
	case CmdReset:
		return s.ResetStatistics(), nil
	}
	err := fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	return Outcome{Command: command, Message: err.Error()}, err
}

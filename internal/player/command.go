package player

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandKind is a parsed keyboard command.
type CommandKind int

const (
	CmdToggle CommandKind = iota
	CmdSeek
	CmdNarrationVolume
	CmdMusicVolume
	CmdSpeed
	CmdNextSpeed
	CmdFullscreen
	CmdQuit
)

// Command is one line of player input.
type Command struct {
	Kind  CommandKind
	Value float64
}

// ParseCommand parses a line such as "p", "s 0.5", "v 0.8", "r 1.25" or "q".
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{Kind: CmdToggle}, nil
	}

	withValue := func(kind CommandKind) (Command, error) {
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%s needs one value", fields[0])
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Command{}, fmt.Errorf("invalid value %q: %w", fields[1], err)
		}
		return Command{Kind: kind, Value: v}, nil
	}

	switch fields[0] {
	case "p", "play", "pause":
		return Command{Kind: CmdToggle}, nil
	case "s", "seek":
		return withValue(CmdSeek)
	case "v", "volume":
		return withValue(CmdNarrationVolume)
	case "m", "music":
		return withValue(CmdMusicVolume)
	case "r", "rate", "speed":
		if len(fields) == 1 {
			return Command{Kind: CmdNextSpeed}, nil
		}
		return withValue(CmdSpeed)
	case "f", "fullscreen":
		return Command{Kind: CmdFullscreen}, nil
	case "q", "quit", "exit":
		return Command{Kind: CmdQuit}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", fields[0])
}

// Apply runs a command against the surface.
func (s *Surface) Apply(cmd Command) error {
	switch cmd.Kind {
	case CmdToggle:
		return s.TogglePlay()
	case CmdSeek:
		return s.ClickSeek(cmd.Value, 1)
	case CmdNarrationVolume:
		s.SetNarrationVolume(cmd.Value)
	case CmdMusicVolume:
		s.SetMusicVolume(cmd.Value)
	case CmdSpeed:
		return s.SetSpeed(cmd.Value)
	case CmdNextSpeed:
		_, err := s.NextSpeed()
		return err
	case CmdFullscreen:
		return s.ToggleFullscreen()
	}
	return nil
}

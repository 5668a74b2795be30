package hub

import (
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/pugbot/internal/engine"
)

func describe(s engine.Session, evt engine.Event) (string, []string) {
	capacity := s.Rules.Capacity
	switch evt.Type {
	case engine.EvtPlayerJoined:
		return fmt.Sprintf("%s joined the queue (%d/%d).", evt.PlayerID, evt.Count, capacity), nil
	case engine.EvtPlayerLeft:
		return fmt.Sprintf("%s left the queue (%d/%d).", evt.PlayerID, evt.Count, capacity), nil
	case engine.EvtPlayerKicked:
		return fmt.Sprintf("%s was removed from the queue by %s (%d/%d).", evt.PlayerID, evt.By, evt.Count, capacity), nil
	case engine.EvtPlayerReady:
		return fmt.Sprintf("%s is ready for %s.", evt.PlayerID, human(evt.Duration)), nil
	case engine.EvtReadyCheckStarted:
		return fmt.Sprintf("The queue is full! %s: you have %s to ready up.",
			strings.Join(evt.Players, ", "), human(evt.Duration)), evt.Players
	case engine.EvtReadyCheckFailed:
		return fmt.Sprintf("Ready check failed. Removed %s (%d/%d).",
			strings.Join(evt.Players, ", "), evt.Count, capacity), evt.Players
	case engine.EvtAllReady:
		return "Everyone is ready!", evt.Players
	case engine.EvtMapVoteStarted:
		return fmt.Sprintf("Vote for a map within %s: %s.", human(evt.Duration), strings.Join(evt.Maps, ", ")), nil
	case engine.EvtVoteCast:
		return fmt.Sprintf("%s voted for %s (%d/%d).", evt.PlayerID, evt.Map, evt.Count, capacity), nil
	case engine.EvtVoteCompleted:
		text := fmt.Sprintf("%s won the vote with %d %s.", evt.Map, evt.Count, plural(evt.Count, "vote"))
		if evt.Random {
			text += fmt.Sprintf(" Picked at random from %s.", strings.Join(evt.Maps, ", "))
		}
		return text, nil
	case engine.EvtFindingServer:
		return fmt.Sprintf("Finding a server for %s...", evt.Map), nil
	case engine.EvtPlayersEvicted:
		return fmt.Sprintf("%s removed from this queue, they are playing in %s (%d/%d).",
			strings.Join(evt.Players, ", "), evt.Origin, evt.Count, capacity), evt.Players
	case engine.EvtServerFound:
		return fmt.Sprintf("Found %s, setting the map to %s...", evt.Address, evt.Map), nil
	case engine.EvtMapApplied:
		return fmt.Sprintf("%s is ready on %s. connect %s", evt.Map, evt.Address, evt.Address), s.PlayerIDs()
	}
	return "", nil
}

func startedText(s engine.Session) string {
	return fmt.Sprintf("A %s pug has started (0/%d).", s.Mode, s.Rules.Capacity)
}

func readyCheckDM(channel string) string {
	return fmt.Sprintf("The pug in %s is full. Ready up or you will be removed.", channel)
}

func evictedDM(channel, origin string) string {
	return fmt.Sprintf("You were removed from the queue in %s because you are ready in %s.", channel, origin)
}

func human(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		m := int(d / time.Minute)
		return fmt.Sprintf("%d %s", m, plural(m, "minute"))
	}
	s := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d %s", s, plural(s, "second"))
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

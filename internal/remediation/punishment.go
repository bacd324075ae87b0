package remediation

import (
	"fmt"
	"time"
)

type PunishmentKind int

const (
	PunishNone PunishmentKind = iota
	PunishTimeout
	PunishKick
	PunishBan
)

type Punishment struct {
	Kind     PunishmentKind
	Duration time.Duration
}

// Ladder holds the timeout durations for levels 2 through 7.
type Ladder [6]time.Duration

var DefaultLadder = Ladder{time.Minute, 5 * time.Minute, 10 * time.Minute, time.Hour, 6 * time.Hour, 24 * time.Hour}

// LadderFromMinutes builds a ladder; missing or non-positive steps keep the default.
func LadderFromMinutes(minutes []int) Ladder {
	ladder := DefaultLadder
	for i := 0; i < len(ladder) && i < len(minutes); i++ {
		if minutes[i] > 0 {
			ladder[i] = time.Duration(minutes[i]) * time.Minute
		}
	}
	return ladder
}

// For maps an ordinal level 0-9 onto an action. Out of range levels are
// clamped.
func (l Ladder) For(level int) Punishment {
	switch {
	case level <= 1:
		return Punishment{Kind: PunishNone}
	case level <= 7:
		return Punishment{Kind: PunishTimeout, Duration: l[level-2]}
	case level == 8:
		return Punishment{Kind: PunishKick}
	default:
		return Punishment{Kind: PunishBan}
	}
}

func PunishmentFor(level int) Punishment {
	return DefaultLadder.For(level)
}

func (p Punishment) String() string {
	switch p.Kind {
	case PunishTimeout:
		return fmt.Sprintf("timeout %s", p.Duration)
	case PunishKick:
		return "kick"
	case PunishBan:
		return "ban"
	default:
		return "none"
	}
}

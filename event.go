package evloop

import (
	"strconv"
	"strings"
)

// Event is a bit mask describing what happened to a watcher. IO watchers
// receive some combination of EventRead and EventWrite, every other variant
// receives its own bit.
type Event uint32

const (
	// EventNone is the empty mask.
	EventNone Event = 0
	// EventRead indicates the descriptor is readable.
	EventRead Event = 0x01
	// EventWrite indicates the descriptor is writable.
	EventWrite Event = 0x02
	// EventTimer is delivered to Timer watchers.
	EventTimer Event = 0x00000100
	// EventPeriodic is delivered to Periodic watchers.
	EventPeriodic Event = 0x00000200
	// EventSignal is delivered to Signal watchers.
	EventSignal Event = 0x00000400
	// EventChild is delivered to Child watchers.
	EventChild Event = 0x00000800
	// EventStat is delivered to Stat watchers.
	EventStat Event = 0x00001000
	// EventIdle is delivered to Idle watchers.
	EventIdle Event = 0x00002000
	// EventPrepare is delivered to Prepare watchers.
	EventPrepare Event = 0x00004000
	// EventCheck is delivered to Check watchers.
	EventCheck Event = 0x00008000
	// EventEmbed is delivered to Embed watchers.
	EventEmbed Event = 0x00010000
	// EventFork is delivered to Fork watchers.
	EventFork Event = 0x00020000
	// EventCleanup is delivered to Cleanup watchers.
	EventCleanup Event = 0x00040000
	// EventAsync is delivered to Async watchers.
	EventAsync Event = 0x00080000
	// EventCustom is never generated by the loop, and is reserved for
	// user code calling [Watcher.FeedEvent] or [Watcher.Invoke].
	EventCustom Event = 0x01000000
	// EventError indicates an unspecified error condition.
	EventError Event = 0x80000000
)

var eventNames = [...]struct {
	ev   Event
	name string
}{
	{EventRead, "READ"},
	{EventWrite, "WRITE"},
	{EventTimer, "TIMER"},
	{EventPeriodic, "PERIODIC"},
	{EventSignal, "SIGNAL"},
	{EventChild, "CHILD"},
	{EventStat, "STAT"},
	{EventIdle, "IDLE"},
	{EventPrepare, "PREPARE"},
	{EventCheck, "CHECK"},
	{EventEmbed, "EMBED"},
	{EventFork, "FORK"},
	{EventCleanup, "CLEANUP"},
	{EventAsync, "ASYNC"},
	{EventCustom, "CUSTOM"},
	{EventError, "ERROR"},
}

// String returns the names of the set bits joined by "|".
func (e Event) String() string {
	if e == EventNone {
		return "NONE"
	}
	var b strings.Builder
	rest := e
	for _, n := range eventNames {
		if e&n.ev == 0 {
			continue
		}
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString(n.name)
		rest &^= n.ev
	}
	if rest != 0 {
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString("0x")
		b.WriteString(strconv.FormatUint(uint64(rest), 16))
	}
	return b.String()
}

// Kind identifies a watcher variant.
type Kind uint8

const (
	KindIO Kind = iota
	KindTimer
	KindPeriodic
	KindSignal
	KindChild
	KindStat
	KindIdle
	KindPrepare
	KindCheck
	KindFork
	KindAsync
	KindCleanup
	KindEmbed
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindTimer:
		return "timer"
	case KindPeriodic:
		return "periodic"
	case KindSignal:
		return "signal"
	case KindChild:
		return "child"
	case KindStat:
		return "stat"
	case KindIdle:
		return "idle"
	case KindPrepare:
		return "prepare"
	case KindCheck:
		return "check"
	case KindFork:
		return "fork"
	case KindAsync:
		return "async"
	case KindCleanup:
		return "cleanup"
	case KindEmbed:
		return "embed"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Watcher priorities. Pending watchers with a numerically higher priority are
// dispatched first.
const (
	MinPriority     = -2
	MaxPriority     = 2
	DefaultPriority = 0

	numPriorities = MaxPriority - MinPriority + 1
)

func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

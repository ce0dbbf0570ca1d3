package core

import "fmt"

// EmptyQueueBehavior selects what a worker does after a full round of
// searching found no work.
type EmptyQueueBehavior int32

const (
	// EmptyQueueSleep parks the worker until work is posted or the idle
	// backoff expires. It is the zero value.
	EmptyQueueSleep EmptyQueueBehavior = iota
	// EmptyQueueSpin keeps searching without pause.
	EmptyQueueSpin
	// EmptyQueueYield yields the processor after each empty round.
	EmptyQueueYield
)

func (b EmptyQueueBehavior) String() string {
	switch b {
	case EmptyQueueSpin:
		return "spin"
	case EmptyQueueYield:
		return "yield"
	case EmptyQueueSleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// ParseEmptyQueueBehavior parses "spin", "yield" or "sleep".
func ParseEmptyQueueBehavior(s string) (EmptyQueueBehavior, error) {
	switch s {
	case "spin":
		return EmptyQueueSpin, nil
	case "yield":
		return EmptyQueueYield, nil
	case "sleep", "":
		return EmptyQueueSleep, nil
	default:
		return EmptyQueueSleep, fmt.Errorf("ftl: unknown empty queue behavior %q", s)
	}
}

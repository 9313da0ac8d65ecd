package schedule

import (
	"time"
)

// Mode determines how a group's schedule buckets map onto calendar days.
type Mode string

const (
	// ModeAllDays uses one bucket for every day of the week.
	ModeAllDays Mode = "all_days"
	// ModeWorkweek ("5/2") uses a weekday bucket for mon-fri and a weekend bucket for sat/sun.
	ModeWorkweek Mode = "5/2"
	// ModeIndividual uses a separate bucket per day of the week.
	ModeIndividual Mode = "individual"
)

// Valid reports whether m is a known schedule mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAllDays, ModeWorkweek, ModeIndividual:
		return true
	}
	return false
}

// A Bucket keys a node list within a ScheduleSet: "all_days", "weekday",
// "weekend", or a short day name ("mon".."sun").
type Bucket string

const (
	BucketAllDays Bucket = "all_days"
	BucketWeekday Bucket = "weekday"
	BucketWeekend Bucket = "weekend"
)

var dayBuckets = [7]Bucket{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// DayBucket returns the bucket name for a day of the week ("mon".."sun").
func DayBucket(day time.Weekday) Bucket {
	return dayBuckets[day]
}

// A ScheduleSet maps bucket keys to node lists. Buckets not used by the
// current mode may linger from previous mode switches; resolution only ever
// consults the buckets the mode defines.
type ScheduleSet map[Bucket]Nodes

// Copy returns a deep copy of the set.
func (s ScheduleSet) Copy() ScheduleSet {
	c := make(ScheduleSet, len(s))
	for bucket, nodes := range s {
		c[bucket] = append(Nodes(nil), nodes...)
	}
	return c
}

// ResolveBucket maps a day to the bucket the given mode consults for it. The
// day may be a short day name ("mon".."sun") or, for the 5/2 mode, one of the
// bucket literals "weekday"/"weekend", which pass through unchanged.
func ResolveBucket(mode Mode, day Bucket) Bucket {
	switch mode {
	case ModeWorkweek:
		if day == BucketWeekday || day == BucketWeekend {
			return day
		}
		if isWeekend(day) {
			return BucketWeekend
		}
		return BucketWeekday
	case ModeIndividual:
		return day
	default:
		return BucketAllDays
	}
}

func isWeekend(day Bucket) bool {
	return day == "sat" || day == "sun"
}

// ActiveNode returns the node governing the given clock time (minutes since
// midnight): the last node at or before that time. If the time precedes every
// node, the schedule is treated as wrapping around midnight and the last node
// of the day applies. Returns false for an empty list.
func ActiveNode(nodes Nodes, clock int) (Node, bool) {
	if len(nodes) == 0 {
		return Node{}, false
	}
	sorted := nodes.Sorted()
	var active *Node
	for i := range sorted {
		minutes, err := sorted[i].Minutes()
		if err != nil || minutes > clock {
			break
		}
		active = &sorted[i]
	}
	if active == nil {
		return sorted[len(sorted)-1], true
	}
	return *active, true
}

// NextNode returns the first node after the given clock time, wrapping to the
// first node of the (next) day if the time is past every node. Returns false
// for an empty list.
func NextNode(nodes Nodes, clock int) (Node, bool) {
	if len(nodes) == 0 {
		return Node{}, false
	}
	sorted := nodes.Sorted()
	for _, node := range sorted {
		if minutes, err := node.Minutes(); err == nil && minutes > clock {
			return node, true
		}
	}
	return sorted[0], true
}

// ResolveDay returns the node list in effect for the given day and clock time
// (minutes since midnight), sorted by time.
//
// In 5/2 and individual modes, buckets are not assumed continuous at
// midnight: if the clock precedes the day's first node, the previous day's
// bucket is resolved as well and its final node is prepended at 00:00, so the
// previous period's setting carries over until today's first node.
func ResolveDay(s ScheduleSet, mode Mode, day time.Weekday, clock int) Nodes {
	bucket := ResolveBucket(mode, DayBucket(day))
	nodes := s[bucket].Sorted()
	if mode == ModeAllDays || len(nodes) == 0 {
		return nodes
	}

	first, err := nodes[0].Minutes()
	if err != nil || clock >= first {
		return nodes
	}

	previous := ResolveBucket(mode, DayBucket((day+6)%7))
	carrySource := s[previous].Sorted()
	if len(carrySource) == 0 {
		return nodes
	}

	carry := carrySource[len(carrySource)-1]
	carry.Time = "00:00"
	return append(Nodes{carry}, nodes...)
}

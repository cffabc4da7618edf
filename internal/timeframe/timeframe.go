package timeframe

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Timeframe is one rung of the candle ladder.
type Timeframe string

const (
	H4  Timeframe = "4h"
	H1  Timeframe = "1h"
	M15 Timeframe = "15m"
	M5  Timeframe = "5m"
	M1  Timeframe = "1m"
)

// Ladder lists every timeframe from coarsest to finest.
var Ladder = []Timeframe{H4, H1, M15, M5, M1}

var ErrUnknownTimeframe = errors.New("unknown timeframe")

func Parse(raw string) (Timeframe, error) {
	v := Timeframe(strings.ToLower(strings.TrimSpace(raw)))
	if v.Valid() {
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, raw)
}

func MustParse(raw string) Timeframe {
	tf, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return tf
}

func (tf Timeframe) Valid() bool {
	return tf.index() >= 0
}

func (tf Timeframe) String() string { return string(tf) }

// Upper returns the label used in reason codes, e.g. "1M".
func (tf Timeframe) Upper() string { return strings.ToUpper(string(tf)) }

func (tf Timeframe) index() int {
	for i, v := range Ladder {
		if v == tf {
			return i
		}
	}
	return -1
}

// SlotLength is the candle length of tf; zero for unknown values.
func SlotLength(tf Timeframe) time.Duration {
	switch tf {
	case H4:
		return 240 * time.Minute
	case H1:
		return 60 * time.Minute
	case M15:
		return 15 * time.Minute
	case M5:
		return 5 * time.Minute
	case M1:
		return time.Minute
	}
	return 0
}

// CurrentSlot floors now (in UTC) to the start of the slot tf is in.
func CurrentSlot(tf Timeframe, now time.Time) time.Time {
	now = now.UTC()
	length := SlotLength(tf)
	if length <= 0 {
		return now
	}
	if length >= time.Hour {
		hours := int(length / time.Hour)
		h := now.Hour() - now.Hour()%hours
		return time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, time.UTC)
	}
	minutes := int(length / time.Minute)
	m := now.Minute() - now.Minute()%minutes
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), m, 0, 0, time.UTC)
}

// NextClose is the instant the current slot of tf closes.
func NextClose(tf Timeframe, now time.Time) time.Time {
	return CurrentSlot(tf, now).Add(SlotLength(tf))
}

// LastClosedCandle is the open time of the most recent fully closed candle.
func LastClosedCandle(tf Timeframe, now time.Time) time.Time {
	return CurrentSlot(tf, now).Add(-SlotLength(tf))
}

// ParentOf is the routing parent: the timeframe whose context a tf evaluation depends on
// and the one promoted when tf releases a lock.
func ParentOf(tf Timeframe) (Timeframe, bool) {
	switch tf {
	case M1, M5:
		return M15, true
	case M15:
		return H1, true
	case H1:
		return H4, true
	}
	return "", false
}

// ChildOf is the next finer rung, the target of a descend.
func ChildOf(tf Timeframe) (Timeframe, bool) {
	i := tf.index()
	if i < 0 || i+1 >= len(Ladder) {
		return "", false
	}
	return Ladder[i+1], true
}

// Above is the previous coarser rung; the cascade aligns every tf against it.
func Above(tf Timeframe) (Timeframe, bool) {
	i := tf.index()
	if i <= 0 {
		return "", false
	}
	return Ladder[i-1], true
}

// Included returns startFrom and every finer rung, coarsest first.
func Included(startFrom Timeframe) []Timeframe {
	i := startFrom.index()
	if i < 0 {
		return nil
	}
	out := make([]Timeframe, len(Ladder)-i)
	copy(out, Ladder[i:])
	return out
}

// Contains reports whether tf is in set.
func Contains(set []Timeframe, tf Timeframe) bool {
	for _, v := range set {
		if v == tf {
			return true
		}
	}
	return false
}

// Coarser reports whether a sits above b on the ladder.
func Coarser(a, b Timeframe) bool {
	ia, ib := a.index(), b.index()
	return ia >= 0 && ib >= 0 && ia < ib
}

// Clock is the single time source shared by every component.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns T; handy for tests and replays.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T.UTC() }

package service

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

var spanishMagnitudes = []humanize.RelTimeMagnitude{
	{D: time.Minute, Format: "%s menos de 1 min", DivBy: 1},
	{D: 2 * time.Minute, Format: "%s 1 min", DivBy: 1},
	{D: time.Hour, Format: "%s %d mins", DivBy: time.Minute},
	{D: 2 * time.Hour, Format: "%s 1 hora", DivBy: 1},
	{D: 24 * time.Hour, Format: "%s %d horas", DivBy: time.Hour},
	{D: 48 * time.Hour, Format: "%s 1 día", DivBy: 1},
	{D: math.MaxInt64, Format: "%s %d días", DivBy: 24 * time.Hour},
}

// TimeAgo renders then relative to now in Spanish, e.g. "hace 5 mins".
// Times in the future are treated as now.
func TimeAgo(then, now time.Time) string {
	if then.After(now) {
		then = now
	}
	return humanize.CustomRelTime(then, now, "hace", "dentro de", spanishMagnitudes)
}

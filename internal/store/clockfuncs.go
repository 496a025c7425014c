package store

import (
	"database/sql/driver"
	"strings"
	"time"

	"github.com/discoveryd/engine/internal/clock"
	sqlite "modernc.org/sqlite"
)

// init overrides SQLite's datetime()/date()/time()/julianday() so that
// datetime('now', ...) resolves against clock.Now() instead of the system
// clock, keeping cleanup/retention logic deterministic under a MockClock.
// Only the 'localtime' and 'utc' modifiers are applied; any other argument,
// including an explicit time value or an offset such as '-1 day', is ignored
// and the result is still clock.Now().
func init() {
	_ = sqlite.RegisterScalarFunction("datetime", -1, datetimeFunc)
	_ = sqlite.RegisterScalarFunction("date", -1, dateFunc)
	_ = sqlite.RegisterScalarFunction("time", -1, timeFunc)
	_ = sqlite.RegisterScalarFunction("julianday", -1, juliandayFunc)
}

func resolveNow(args []driver.Value) (time.Time, []driver.Value) {
	if len(args) == 0 {
		return clock.Now().UTC(), nil
	}
	if s, ok := args[0].(string); ok && strings.EqualFold(s, "now") {
		return clock.Now().UTC(), args[1:]
	}
	return clock.Now().UTC(), args
}

func applyModifiers(t time.Time, mods []driver.Value) time.Time {
	for _, m := range mods {
		s, ok := m.(string)
		if !ok {
			continue
		}
		switch strings.ToLower(s) {
		case "localtime":
			t = t.Local()
		case "utc":
			t = t.UTC()
		}
	}
	return t
}

func datetimeFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	t, mods := resolveNow(args)
	t = applyModifiers(t, mods)
	return t.Format("2006-01-02 15:04:05"), nil
}

func dateFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	t, mods := resolveNow(args)
	t = applyModifiers(t, mods)
	return t.Format("2006-01-02"), nil
}

func timeFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	t, mods := resolveNow(args)
	t = applyModifiers(t, mods)
	return t.Format("15:04:05"), nil
}

func juliandayFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	t, mods := resolveNow(args)
	t = applyModifiers(t, mods)
	const unixToJulian = 2440587.5
	return unixToJulian + float64(t.Unix())/86400.0, nil
}

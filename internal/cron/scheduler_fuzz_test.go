package cron

import (
	"testing"

	"github.com/robfig/cron/v3"
)

// FuzzCronSchedule checks the 5-field parser used by Start never panics
// on arbitrary schedule strings coming from job definitions.
func FuzzCronSchedule(f *testing.F) {
	f.Add("*/5 * * * *") // registry refresh sweep
	f.Add("0 0 * * *")   // request-log rotation
	f.Add("* * * * *")
	f.Add("17 3 * * 1-5")
	f.Add("not a schedule")
	f.Add("")
	f.Add("61 * * * *")
	f.Add("@every 5m")

	f.Fuzz(func(_ *testing.T, expr string) {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		_, _ = parser.Parse(expr) // errors are expected, panics are not
	})
}

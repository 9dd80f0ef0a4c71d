package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"taglistbot/internal/budget"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json paths ("site.base_url") instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError lists every problem found in one pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks struct tags, durations, cross references and the budget
// table. A budget that oversubscribes the hourly cap is returned as the
// underlying *budget.ConfigurationError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("invalid config: nil")
	}
	var problems []string
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	for path, raw := range map[string]string{
		"site.timeout":          cfg.Site.Timeout,
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			problems = append(problems, fmt.Sprintf("scheduler.timezone: %v", err))
		}
	}

	known := map[string]bool{}
	for _, t := range cfg.Taglists {
		key := strings.ToLower(t.Abbreviation)
		if known[key] {
			problems = append(problems, fmt.Sprintf("taglists: duplicate abbreviation %q", t.Abbreviation))
		}
		known[key] = true
	}
	for _, tr := range cfg.Trackers {
		for _, a := range tr.Taglists {
			if !known[strings.ToLower(a)] {
				problems = append(problems, fmt.Sprintf("trackers.%s: unknown taglist %q", tr.Name, a))
			}
		}
	}
	sort.Strings(problems)
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	if _, err := cfg.BudgetTable(); err != nil {
		return err
	}
	return nil
}

func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return path + ": required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", path, fe.Param())
	case "url":
		return path + ": must be a URL"
	default:
		return fmt.Sprintf("%s: failed %s=%s", path, fe.Tag(), fe.Param())
	}
}

// Allocations returns the module quotas sorted by module name.
func (c *Config) Allocations() []budget.Allocation {
	names := make([]string, 0, len(c.Budget.Modules))
	for n := range c.Budget.Modules {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]budget.Allocation, 0, len(names))
	for _, n := range names {
		out = append(out, budget.Allocation{Module: n, HourlyQuota: c.Budget.Modules[n].Quota})
	}
	return out
}

func (c *Config) BudgetTable() (*budget.Table, error) {
	return budget.New(c.Budget.DailyCap, c.Allocations()...)
}

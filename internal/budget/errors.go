package budget

import "fmt"

// ConfigurationError reports a budget table that cannot be used. It is fatal at startup.
type ConfigurationError struct {
	Module string
	Sum    int
	Cap    int
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Cap > 0:
		return fmt.Sprintf("budget: %s (allocated %d/h, cap %d/h)", e.Reason, e.Sum, e.Cap)
	case e.Module != "":
		return fmt.Sprintf("budget: module %q: %s", e.Module, e.Reason)
	default:
		return "budget: " + e.Reason
	}
}

// Package budget partitions the site's global request quota among modules.
package budget

import (
	"fmt"
	"sort"
	"strings"
)

// Defaults from the site's published limits.
const (
	DefaultDailyCap = 12500

	ModuleComments = "comments"
	ModuleDeletion = "deletion"
)

// Allocation grants one module an hourly request allowance.
type Allocation struct {
	Module      string
	HourlyQuota int
}

// Table is an immutable module -> hourly quota lookup.
type Table struct {
	dailyCap int
	quotas   map[string]int
	order    []string
}

// DefaultAllocations returns the stock split of the hourly cap.
func DefaultAllocations() []Allocation {
	return []Allocation{
		{Module: ModuleComments, HourlyQuota: 250},
		{Module: ModuleDeletion, HourlyQuota: 50},
	}
}

// New builds a Table. It fails with *ConfigurationError when the allocations
// do not fit into dailyCap/24 or are malformed.
func New(dailyCap int, allocs ...Allocation) (*Table, error) {
	if dailyCap <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("daily cap must be > 0 (got %d)", dailyCap)}
	}
	t := &Table{dailyCap: dailyCap, quotas: make(map[string]int, len(allocs))}
	sum := 0
	for _, a := range allocs {
		name := strings.TrimSpace(a.Module)
		if name == "" {
			return nil, &ConfigurationError{Reason: "allocation without module name"}
		}
		if a.HourlyQuota < 0 {
			return nil, &ConfigurationError{Module: name, Reason: fmt.Sprintf("negative quota %d", a.HourlyQuota)}
		}
		if _, dup := t.quotas[name]; dup {
			return nil, &ConfigurationError{Module: name, Reason: "duplicate allocation"}
		}
		t.quotas[name] = a.HourlyQuota
		t.order = append(t.order, name)
		sum += a.HourlyQuota
	}
	if hourly := dailyCap / 24; sum > hourly {
		return nil, &ConfigurationError{Sum: sum, Cap: hourly, Reason: "allocations exceed hourly cap"}
	}
	return t, nil
}

// QuotaFor returns the hourly allowance of module; unknown modules get 0.
func (t *Table) QuotaFor(module string) int {
	if t == nil {
		return 0
	}
	return t.quotas[module]
}

// Has reports whether module has an allocation.
func (t *Table) Has(module string) bool {
	if t == nil {
		return false
	}
	_, ok := t.quotas[module]
	return ok
}

// HourlyCap is the derived global cap (daily cap / 24).
func (t *Table) HourlyCap() int { return t.dailyCap / 24 }

func (t *Table) DailyCap() int { return t.dailyCap }

// Allocated is the sum of all quotas.
func (t *Table) Allocated() int {
	sum := 0
	for _, q := range t.quotas {
		sum += q
	}
	return sum
}

// Modules returns module names in registration order.
func (t *Table) Modules() []string {
	return append([]string(nil), t.order...)
}

// Allocations returns the table contents sorted by module name.
func (t *Table) Allocations() []Allocation {
	out := make([]Allocation, 0, len(t.quotas))
	for name, q := range t.quotas {
		out = append(out, Allocation{Module: name, HourlyQuota: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// Package scheduler drives budgeted modules on cron timers.
//
// Every module shares one hourly Window of consumed requests. Before a cycle
// the module's projection is admitted against its quota; after the cycle the
// requests it actually issued are charged.
package scheduler

// Package workspace composes the stores into the flows a user drives:
// upload, processing, live parameter tweaks, duplex event routing and
// sessions. It is the only place that reads across stores.
//
//   - workspace.go: Workspace, Start and Close.
//   - config.go: Config and defaults.
//   - actions.go: upload, clear, process, parameter updates.
//   - routing.go: duplex message routing.
//   - sessions.go: save, restore and new session.
//   - debounce.go: keyed debouncer for parameter edits.
package workspace

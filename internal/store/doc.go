// Package store holds the client's state containers. Each store owns one
// slice of state behind its own mutex, exposes action methods that run to
// completion, and announces changes on an eventbus.Publisher after the lock
// is released. Stores never mutate each other; cross-store flows live in
// the workspace package.
//
//   - connection.go: ConnectionStore, mirror of the duplex client plus the
//     store-level retry.
//   - image.go: ImageStore, current image, upload and bounded history.
//   - segmentation.go: SegmentationStore, catalog, active set, results,
//     progress and result history.
//   - session.go: SessionStore, named snapshots.
//   - ui.go: UIStore, view mode, grid slots, toasts and preferences.
//   - base.go: persistence and event plumbing shared by the stores.
//   - errors.go: validation errors and sentinels.
package store

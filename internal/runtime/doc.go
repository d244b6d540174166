// Package runtime wires storage and config into a single-node kafka-flow
// instance. It exposes Open/Close, a basic health check, and the snapshot
// store used by partition recovery.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	store := rt.SnapshotStore(cfg.ApplicationID, cfg.Group)
package runtime

// Package bundle is the state-machine core of the proxy: the registry of
// loaded bundles, the per-bundle connection monitor, the watcher router, and
// the lifecycle orchestrator.
//
// A bundle moves Loading -> Active on a successful load, Loading -> Errored
// on failure, and is destroyed by unload or superseded by a fresh load for
// the same launcher bundle id. At most one state entry exists per id;
// transitioning out of Active always stops the health-check loop and every
// registered watcher before the old state is discarded.
//
// Components:
//   - Registry: the state map; all transitions are whole-entry replacements
//     under one mutex
//   - Monitor: health check + reconnect loop with capped exponential backoff
//   - Router: fans watch notifications out to exactly the owning client
//   - Orchestrator: load/unload/auto-resume; the only component that creates
//     or destroys document store instances
package bundle

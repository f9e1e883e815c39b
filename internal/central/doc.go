// Package central implements the central-role BLE lifecycle: scanning into a
// deduplicated, insertion-ordered device list, holding at most one selected
// connection, and reading/writing one fixed service/characteristic pair.
//
// All BLE traffic goes through the Adapter port, keeping the package free of
// OS and transport concerns. Each session (scan, connection) owns its state
// behind a mutex and tags every asynchronous effect with the generation of
// the attempt that armed it. An effect whose generation is no longer current
// is discarded before it can touch state, so a slow callback from a torn-down
// attempt can never corrupt the attempt that replaced it.
package central

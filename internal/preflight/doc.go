// Package preflight provides readiness checks for the filesystem paths,
// binaries, and object storage framepipe depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failing check.
//   - The CLI "framepipe health" command prints the same results.
//
// Checks for optional backends run only when that backend is configured.
package preflight

// Command framepipe runs the frame pipeline daemon and controls it over the
// daemon's Unix socket.
//
// The daemon subcommand runs in the foreground; start, stop, and restart
// manage a detached daemon process. Run commands (submit, show, result,
// cancel, resume, runs) accept --output json or yaml for scripting.
package main

// Package cover is the runtime entry point of llcov-instrumented programs.
//
// The llcov tool rewrites every selected basic block so that it starts with
// a call to [BlockCall]:
//
//	$ llcov build ./cmd/server
//	$ LLCOV_FILE=cov.log LLCOV_DEDUP=1 ./server
//
//	// Original code:
//	if err != nil {
//		return err
//	}
//
//	// Instrumented code:
//	if err != nil {
//		cover.BlockCall("main.run", "/src/server/main.go", 42, 0)
//		return err
//	}
//
// # Backends
//
// On the first call the process-wide sink is configured from the
// environment. Exactly one backend is active, chosen in this order:
//
//   - LLCOV_ABORT: print an assertion message and exit with status 134
//   - LLCOV_HOST: stream events to a collector (port 7777, LLCOV_PORT
//     overrides); see "llcov listen"
//   - LLCOV_STDERR: print each event to standard error
//   - LLCOV_FILE: append each event to a log file; LLCOV_DEDUP writes each
//     (file, line, relblock) at most once
//
// With none of them set the calls are no-ops.
//
// The file format is itself a valid llcov list file, so the log of a run
// can be passed as a blacklist to the next build to focus on blocks not
// yet reached.
//
// # Custom Recorders
//
// Tests and embedding programs can replace the sink with [SetSink] or
// reconfigure it with [Configure].
package cover

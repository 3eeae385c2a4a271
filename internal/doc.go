// Package internal contains the implementation packages of stagehand.
//
// # Package Organization
//
//   - config: configuration loading, path resolution and port precedence
//   - errors: failure sites and the fatal/recoverable/ignored policy
//   - staging: builds the staging tree before any compiler starts
//   - build: target derivation, configuration hooks, compilers and jobs
//   - server: dev server, live reload websocket and error overlay
//   - mirror: copies source edits into the staging tree
//   - session: runs one development session end to end
//   - watcher: debounced recursive filesystem watching
//   - runtime: embedded runtime support files
//   - metrics, logging, validation, version: supporting packages
//
// # Session Flow
//
// A session stages the project, derives one configuration per target, runs
// each through the configuration hook, constructs the server and browser
// compilers, starts the server compiler in quiet watch mode, attaches the
// dev server to the browser compiler and finally starts the source mirror.
// Only staging, configuration and compiler construction failures end the
// session; everything after that is logged and survived.
package internal

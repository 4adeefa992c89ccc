// Package errors provides standardized error handling for takstreams components.
//
// # Overview
//
// Every failure in the CoT pipeline falls into one of three classes:
//
//   - Invalid: malformed style templates, a mission-diff ingest without the
//     full uids set, bad configuration. Rejected before any processing.
//   - Transient: Mission API, broker and log store failures. Caught at the
//     call site, logged, and the pipeline continues with partial success.
//   - Fatal: unrecoverable startup problems (unreadable config, storage that
//     cannot be opened).
//
// A drain that is already running is not an error at all; callers that hit
// the single-flight guard simply return.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Tasker", "process", "send batch")
//	errors.WrapInvalid(err, "Resolver", "Compile", "parse template")
//	errors.WrapFatal(err, "Config", "Load", "read file")
//
// Validation builds an invalid error that also carries ErrValidation:
//
//	return errors.Validation("Pipeline", "Ingest", "layer %d: %v", id, errors.ErrMissionDiffUIDs)
//
// All error types support errors.Is and errors.As from the standard library.
package errors

// Package diag defines the model of diagnostics emitted by an external
// compiler and the parser that recovers them from its raw output.
//
// # Data model
//
// Diagnostic is the central record. It contains:
//
//   - File, Line, Column – location as printed by the compiler. Line and
//     Column are zero when the compiler did not print them (driver errors
//     such as "clang: error: no input files").
//   - Severity – note, remark, warning, error or fatal (severity.go).
//   - Message – text after the severity label, normalised by Normalize so
//     that typographic quotes and Unicode forms compare equal.
//   - Raw – the untouched line the diagnostic was parsed from.
//
// # Parsing
//
// Parse understands the GNU "file:line:col: severity: message" layout used
// by gcc and clang, the driver layout without a location, and MSVC's classic
// "file(line,col): error C1234: message". Everything else in the stream
// (caret lines, source echo, "In file included from") is context and is
// skipped. LooksLikeCrash recognises the banners compilers print when they
// die rather than diagnose.
//
// # Consumers
//
//   - internal/match: correlates diagnostics with expectations.
//   - internal/synth: renders actual diagnostics next to failed expectations.
//
// Package diag does no IO; the compiler output arrives as a string.
package diag

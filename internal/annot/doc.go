// Package annot extracts no-compile test cases and their expected
// diagnostics from an annotated source fragment.
//
// Two annotation dialects exist. A cheap syntactic probe picks one per
// fragment:
//
//   - Guard dialect: every case lives in a conditional block guarded by a
//     symbol starting with NCTEST (DISABLED_NCTEST to skip it). The comment
//     on the guard line lists regular expressions that must all match the
//     compiler output when the fragment is compiled with that symbol defined.
//
//     #if defined(NCTEST_NEEDS_SEMICOLON)  // [r"expected ',' or ';'"]
//     int a = 1
//     #endif
//
//   - Inline dialect: markers in the style of clang -verify anchor an
//     expected message to a line. Every marker inside one top-level block
//     (function, struct, class) belongs to the case named after the block.
//
//     void StaticAssert() {
//       static_assert(1 == 2);  // expected-error {{static assertion failed}}
//     }
//
// Malformed annotations are reported as *StructuralError.
package annot

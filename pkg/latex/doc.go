// Package latex rewrites casual ASCII math in chat text into LaTeX and builds
// the image-service URL that renders it.
//
// Text flows one way through fixed stages: Greek-letter substitution, then
// fractions, exponents and square roots, then a decision step that returns
// Unchanged when nothing was rewritten. The rewrites are best-effort pattern
// substitutions over a small operand grammar, not a math parser: nested
// parentheses and chained operators such as a/b/c are handled only as far as
// the patterns reach.
package latex

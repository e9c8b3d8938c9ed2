// Package prompt collects configuration values from an operator on a
// terminal.
//
// Each question is rendered as a block framed by dashed lines. Questions
// that have a default first ask "Use default value (X)? (Y/n)", where an
// empty answer, "Y" or "y" keeps the default and "N" or "n" asks for a new
// value. Invalid answers are not retried; they are returned as errors so
// the caller decides how to exit.
//
// Answers lose their line ending and, except for confirmations, leading
// and trailing spaces. Tabs and other whitespace are kept as typed.
package prompt

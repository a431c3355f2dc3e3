// Package logx wraps zerolog for schedbot.
//
// Console output is human readable with a file:line caller, file output is
// JSON lines, and an optional alert sink forwards warnings to an owner chat
// with a rate limit and repeat folding.
package logx

// Package prompt asks the operator questions on the console: a directory
// path when none was given on the command line, and yes/no confirmation
// before stages that block on manual work.
package prompt

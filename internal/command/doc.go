// Package command is the boundary between tractkit and the external
// neuroimaging programs it drives.
//
// Every call is described by an Invocation (program, arguments, working
// directory, expected outputs) and executed through an Executor. The local
// executor runs each program in its own process group, drains stdout and
// stderr concurrently, kills the whole group when the context is cancelled,
// and reports a non-zero exit or a missing expected output as
// services.ErrExternalTool. Nothing is ever run through a shell.
package command

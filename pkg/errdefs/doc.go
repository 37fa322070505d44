// Package errdefs defines the error taxonomy shared by the pool, volume
// service, and push protocol. Callers classify failures with errors.Is
// against the sentinel values rather than matching message strings.
package errdefs

// Package transport abstracts "run a command on an endpoint with piped
// standard streams", the channel the push protocol delivers snapshot diff
// streams over. ProcessNode covers both the local-subprocess case used for
// same-host replication and testing and, prefixed with ssh, the production
// remote case.
package transport

// Package dispatch routes conversion messages by operation kind, runs the
// parse and render pipeline for the two convert operations, and turns every
// outcome into a Reply. Transports (HTTP, NATS, the CLI) only translate their
// wire formats to and from Message and Reply.
package dispatch

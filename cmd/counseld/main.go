// Command counseld is a thin process wrapper around the AI Counsel
// core packages. It exists only to make the core reachable as a
// running process for local testing; the real MCP transport and wire
// handshake are external per spec.md's Non-goals.
package main

func main() {
	Execute()
}

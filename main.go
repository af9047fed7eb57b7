// Lodestone is a self-hosted knowledge base: it watches a managed
// directory tree, mirrors remote sources into it, indexes the content
// into a hybrid dense+sparse vector store, and serves search over
// HTTP, WebSocket, and MCP.
package main

import (
	"os"

	"github.com/lodekb/lodestone/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Sandflow - Sandbox Lifecycle Engine
// Create. Execute. Reclaim.
package main

func main() {
	Execute()
}

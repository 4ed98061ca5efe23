// Command maoc is the Multi-Agent Orchestration Core CLI: the hook
// callback entry point plus a small set of operator commands for
// inspecting and reclaiming the state it accumulates.
package main

func main() {
	Execute()
}

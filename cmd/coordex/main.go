// Command coordex is the local operator CLI for the coordinator: register
// and watch sessions, acquire and release file claims, detect and resolve
// merge conflicts, drive remote sandboxes, and inspect budget/config state.
package main

func main() {
	Execute()
}

// apptuit-agent reports the Go runtime and process metrics of its own process
// to Apptuit. It is mostly useful as a template for embedding the reporter.
//
// Usage:
//
//	# Start reporting with the configuration in agent.yaml
//	apptuit-agent run --config agent.yaml
//
//	# Show version information
//	apptuit-agent version
//
// The API token and global tags can also be supplied through the
// APPTUIT_API_TOKEN and APPTUIT_TAGS environment variables.
package main

func main() {
	Execute()
}

package config

import "os"

// ExpandEnv expands ${VAR} and $VAR references in raw config bytes before
// YAML parsing, so tokens and connection strings never need to be
// hardcoded in agentctl.yaml.
//
// Examples:
//   - ${GITHUB_TOKEN} → value of GITHUB_TOKEN
//   - $SLACK_CHANNEL → value of SLACK_CHANNEL
//   - ${DASHBOARD_HOST}:${DASHBOARD_PORT} → both expanded
//
// An unset variable expands to the empty string; validation is responsible
// for catching required fields left empty by that.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

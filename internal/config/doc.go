// Package config loads and validates dltcos configuration from a YAML file.
//
// Load applies defaults before unmarshalling, so a file only needs the keys
// it changes. Thresholds fall back to the production acceptance limits and
// reporting weeks end on Sunday. Secrets (API key, webhook URLs) are never
// stored in the file; the file names environment variables that hold them.
//
// Watch reloads the file on change. WatchFiles is the underlying fsnotify
// loop and is also used by serve mode to pick up new RF/BLE exports.
package config

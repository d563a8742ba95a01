// Package config loads the IOC configuration from a YAML file.
//
// Sections:
//   - log_level  "debug" | "info" | "warn" | "error" (default info)
//   - ioc        PV prefix, HDF5 dataset path, reduction method and the
//     initial ROI PV values
//   - analysis   saturation ceiling and threshold fraction
//   - server     HTTP and gRPC ports, API-key auth, WebSocket broadcast interval
//   - watch      optional per-channel directories to watch for new images
//   - alarms     threshold rules over PVs and webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file with fsnotify once writes settle
// and calls onChange only when a runtime-applicable setting changed.
package config

/*
Package config defines Options, the full set of per-room configuration
the sync engine reads: relay connection details, sync mode, per-section
enable flags, debounce and safety-net timings, backup retention, and
validation caps.

Load(path) reads a YAML file and layers it over Default(); a missing
file falls back to defaults rather than erroring, since a fresh room
has no config file yet. BindFlags wires a subset of those fields onto a
cobra command so a CLI invocation's flags take precedence over the file,
following the teacher's own persistent-flags-plus-Init pattern.
*/
package config

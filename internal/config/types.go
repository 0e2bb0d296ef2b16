// Package config loads and validates the armbridge.yaml daemon
// configuration.
package config

// Controller holds the robot-controller session settings.
type Controller struct {
	// Driver selects the stepper implementation. "sim" runs a local
	// session simulator for commissioning without hardware.
	Driver string `yaml:"driver"`
	// Port must lie in the controller's service band [30200, 30209].
	Port int `yaml:"port"`
	// Host is the controller's address; empty accepts the default.
	Host string `yaml:"host"`
	// SampleTimeMS is the simulated cycle period for the sim driver,
	// in milliseconds.
	SampleTimeMS int `yaml:"sample_time_ms"`
	// JoinTimeoutMS bounds the wait for the cyclic loop to exit on
	// disconnect, in milliseconds.
	JoinTimeoutMS int `yaml:"join_timeout_ms"`
	// AutoConnect performs a connect on startup with the configured
	// port and host.
	AutoConnect bool `yaml:"auto_connect"`
}

// NATS holds the command/state transport settings.
type NATS struct {
	URL            string `yaml:"url"`
	CommandSubject string `yaml:"command_subject"`
	StateSubject   string `yaml:"state_subject"`
}

// Server holds the HTTP API settings.
type Server struct {
	Port int `yaml:"port"`
}

// History holds the lifecycle event store settings.
type History struct {
	// Path is the SQLite database file; empty disables the store.
	Path string `yaml:"path"`
}

// Config represents the armbridge.yaml file.
type Config struct {
	Controller Controller `yaml:"controller"`
	NATS       NATS       `yaml:"nats"`
	Server     Server     `yaml:"server"`
	History    History    `yaml:"history"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

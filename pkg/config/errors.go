package config

import "errors"

var (
	// ErrParsingConfig is returned when environment variables cannot be parsed into the config struct
	ErrParsingConfig = errors.New("config.parse_failed")

	// ErrInvalidConfig wraps errors returned from a config's Validate method
	ErrInvalidConfig = errors.New("config.invalid")

	// ErrLoadingEnvFile is returned when a dotenv file cannot be read
	ErrLoadingEnvFile = errors.New("config.env_file")

	// ErrNilPointer is returned when a nil pointer is provided to Load
	ErrNilPointer = errors.New("config.nil_pointer")
)

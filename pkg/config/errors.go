package config

import "errors"

var ErrConfigIsNil = errors.New("config is nil")
var ErrMissingSchema = errors.New("missing document schema")
var ErrMissingLensFiles = errors.New("missing lens files")
var ErrInvalidShards = errors.New("shard count must be positive")
var ErrUnknownLogLevel = errors.New("unknown log level")
var ErrUnknownLogFormat = errors.New("unknown log format")
var ErrMissingNamespace = errors.New("missing metrics namespace")

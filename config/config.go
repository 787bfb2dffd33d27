package config

import (
	"go.uber.org/zap"
)

// Config bundles the dependencies shared by every component of the service: the
// sugared logger and the imported environment settings.
type Config struct {
	Logger      *zap.SugaredLogger
	Environment *Environment
}

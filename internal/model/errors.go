package model

import (
	"errors"
)

// container runtime
var (
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	ErrContainerNotFound  = errors.New("container not found")
	ErrInspectFailed      = errors.New("container inspect failed")
	ErrStreamFailed       = errors.New("log stream failed")
)

// watcher registry
var (
	ErrAlreadyWatching = errors.New("already watching")
	ErrNotWatching     = errors.New("not watching")
)

// scenes and services
var (
	ErrCyclicInclude       = errors.New("cyclic scene include")
	ErrSceneNotFound       = errors.New("scene not found")
	ErrSceneExists         = errors.New("scene already exists")
	ErrInvalidSceneName    = errors.New("invalid scene name")
	ErrServiceNotFound     = errors.New("service not found")
	ErrServiceExists       = errors.New("service already exists")
	ErrOverlappingServices = errors.New("scenes have overlapping services")
	ErrInvalidArgument     = errors.New("invalid argument")
)

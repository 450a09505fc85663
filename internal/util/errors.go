package util

import "github.com/pkg/errors"

var errShortBuffer = errors.New("util: buffer too short")

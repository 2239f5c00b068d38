package esigin

import "errors"

var errUnsupportedBody = errors.New("esigin: body must be string or []byte")

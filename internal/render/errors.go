package render

import "errors"

var (
	ErrRenderFailed = errors.New("render failed")
	ErrNotPDF       = errors.New("not a pdf document")
)

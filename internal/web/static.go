package web

import "embed"

// staticFiles holds the camera page and its assets.
//
//go:embed static/*
var staticFiles embed.FS

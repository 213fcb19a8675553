package es

import "log/slog"

// Version is the position of an event within its aggregate stream, counting
// from 1 for the first event. An aggregate's version is the version of the
// last event folded into it; a fresh aggregate is at version 0. Version is
// the value compared during optimistic concurrency control.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }

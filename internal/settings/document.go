package settings

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrMalformed reports a settings file that is not a JSON object.
var ErrMalformed = errors.New("malformed settings document")

const (
	KeyRelaunchOnClose = "relaunchOnClose"
	KeyAllowMinimize   = "allowMinimize"
	KeyAlwaysOnTop     = "alwaysOnTop"
	KeyTimerDuration   = "timerDuration"
	KeyWarningTime     = "warningTime"

	DefaultTimerDuration = 180 * time.Second
	DefaultWarningTime   = 60 * time.Second

	// legacyServerIP was written by older front ends and is stripped on load.
	legacyServerIP = "serverIp"
)

// Document is a settings object held as raw JSON. Fields the daemon does not
// know about are carried through edits untouched.
type Document struct {
	raw []byte
}

// Parse validates data as a JSON object.
func Parse(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) || !gjson.ParseBytes(trimmed).IsObject() {
		return Document{}, ErrMalformed
	}
	return Document{raw: append([]byte(nil), trimmed...)}, nil
}

// Bytes returns the JSON encoding of the document. An empty document encodes
// as an empty object.
func (d Document) Bytes() []byte {
	if len(d.raw) == 0 {
		return []byte("{}")
	}
	return append([]byte(nil), d.raw...)
}

// Has reports whether key is present at the top level.
func (d Document) Has(key string) bool {
	return d.get(key).Exists()
}

// Bool returns the boolean stored under key, or def when the key is absent or
// holds any other type.
func (d Document) Bool(key string, def bool) bool {
	switch d.get(key).Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	default:
		return def
	}
}

// Number returns the number stored under key, or def when the key is absent or
// holds any other type.
func (d Document) Number(key string, def float64) float64 {
	res := d.get(key)
	if res.Type != gjson.Number {
		return def
	}
	return res.Float()
}

// Value returns the decoded value stored under key.
func (d Document) Value(key string) (any, bool) {
	res := d.get(key)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// Map decodes the whole document.
func (d Document) Map() map[string]any {
	out := make(map[string]any)
	gjson.ParseBytes(d.Bytes()).ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.Value()
		return true
	})
	return out
}

// RelaunchOnClose defaults to true.
func (d Document) RelaunchOnClose() bool {
	return d.Bool(KeyRelaunchOnClose, true)
}

// AllowMinimize defaults to false.
func (d Document) AllowMinimize() bool {
	return d.Bool(KeyAllowMinimize, false)
}

// AlwaysOnTop defaults to true.
func (d Document) AlwaysOnTop() bool {
	return d.Bool(KeyAlwaysOnTop, true)
}

// TimerDuration is the idle countdown before the host is shut down, stored in
// seconds. Missing or non-positive values yield the default.
func (d Document) TimerDuration() time.Duration {
	return seconds(d.Number(KeyTimerDuration, 0), DefaultTimerDuration)
}

// WarningTime is how much of the countdown remains when the shutdown warning
// is raised, stored in seconds.
func (d Document) WarningTime() time.Duration {
	return seconds(d.Number(KeyWarningTime, 0), DefaultWarningTime)
}

func seconds(v float64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v * float64(time.Second))
}

// Set returns a copy of the document with key set to value.
func (d Document) Set(key string, value any) (Document, error) {
	raw, err := sjson.SetBytes(d.Bytes(), gjson.Escape(key), value)
	if err != nil {
		return d, fmt.Errorf("set %s: %w", key, err)
	}
	return Document{raw: raw}, nil
}

// SetRaw returns a copy of the document with key set to the JSON fragment raw.
func (d Document) SetRaw(key string, raw []byte) (Document, error) {
	if !gjson.ValidBytes(raw) {
		return d, fmt.Errorf("set %s: invalid JSON value", key)
	}
	out, err := sjson.SetRawBytes(d.Bytes(), gjson.Escape(key), raw)
	if err != nil {
		return d, fmt.Errorf("set %s: %w", key, err)
	}
	return Document{raw: out}, nil
}

// Delete returns a copy of the document without key.
func (d Document) Delete(key string) (Document, error) {
	if !d.Has(key) {
		return d, nil
	}
	raw, err := sjson.DeleteBytes(d.Bytes(), gjson.Escape(key))
	if err != nil {
		return d, fmt.Errorf("delete %s: %w", key, err)
	}
	return Document{raw: raw}, nil
}

func (d Document) get(key string) gjson.Result {
	if len(d.raw) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(d.raw, gjson.Escape(key))
}

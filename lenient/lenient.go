// Package lenient reads JSON objects one field at a time. A field that has
// the wrong type is reported as a warning and left at its zero value, so one
// bad field costs only itself.
package lenient

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// Object is a decoded JSON object whose fields have not been decoded yet.
// The zero Object has no fields.
type Object struct {
	where  string
	path   string
	fields map[string]json.RawMessage
	warns  *[]error
}

// Decode parses raw as a JSON object. Anything else, null included, is an
// error. Field warnings are appended to warns, which may be nil.
func Decode(raw []byte, where string, warns *[]error) (Object, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Object{}, errors.Wrap(err, where)
	}
	if fields == nil {
		return Object{}, errors.Errorf("%s: not an object", where)
	}
	return Object{where: where, fields: fields, warns: warns}, nil
}

// IsNull reports whether raw is the JSON literal null.
func IsNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Field decodes one field into out and reports whether it did. Absent and
// null fields are not warned about.
func (o Object) Field(name string, out any) bool {
	raw, ok := o.fields[name]
	if !ok || IsNull(raw) {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		o.warn(o.join(name), err)
		return false
	}
	return true
}

// Object returns the nested object stored under name.
func (o Object) Object(name string) (Object, bool) {
	raw, ok := o.fields[name]
	if !ok || IsNull(raw) {
		return Object{}, false
	}
	return o.child(o.join(name), raw)
}

// Objects returns the object-valued entries of the map stored under name.
// Entries that are not objects are warned about and left out.
func (o Object) Objects(name string) (map[string]Object, bool) {
	var entries map[string]json.RawMessage
	if !o.Field(name, &entries) {
		return nil, false
	}
	out := make(map[string]Object, len(entries))
	for key, raw := range entries {
		if IsNull(raw) {
			continue
		}
		if child, ok := o.child(o.join(name)+"."+key, raw); ok {
			out[key] = child
		}
	}
	return out, true
}

// Items returns the elements of the array stored under name. Elements that
// are not objects are warned about and returned as empty Objects, so the
// length always matches the array.
func (o Object) Items(name string) []Object {
	var items []json.RawMessage
	if !o.Field(name, &items) {
		return nil
	}
	out := make([]Object, len(items))
	for i, raw := range items {
		if child, ok := o.child(o.join(name)+"["+strconv.Itoa(i)+"]", raw); ok {
			out[i] = child
		}
	}
	return out
}

func (o Object) child(path string, raw json.RawMessage) (Object, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		o.warn(path, err)
		return Object{}, false
	}
	return Object{where: o.where, path: path, fields: fields, warns: o.warns}, true
}

func (o Object) join(name string) string {
	if o.path == "" {
		return name
	}
	return o.path + "." + name
}

func (o Object) warn(path string, err error) {
	if o.warns == nil {
		return
	}
	*o.warns = append(*o.warns, errors.Wrapf(err, "%s: field %s", o.where, path))
}

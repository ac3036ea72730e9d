package ir

// ApplyDeltas returns a copy of fields with deltas applied. An IRNull (or
// nil) delta removes the field.
func ApplyDeltas(fields, deltas IRObject) IRObject {
	out := fields.Clone()
	if out == nil {
		out = IRObject{}
	}
	for name, value := range deltas {
		if _, isNull := value.(IRNull); isNull || value == nil {
			delete(out, name)
			continue
		}
		out[name] = cloneValue(value)
	}
	return out
}

// Diff returns the deltas that turn before into after: changed or added
// fields carry their new value, removed fields carry IRNull. Equal inputs
// yield an empty object.
func Diff(before, after IRObject) IRObject {
	deltas := IRObject{}
	for name, value := range after {
		if old, ok := before[name]; !ok || !Equal(old, value) {
			deltas[name] = cloneValue(value)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			deltas[name] = IRNull{}
		}
	}
	return deltas
}

// WithoutNulls returns a copy of fields without its IRNull (or nil) entries.
// A null field and an absent one are the same record; stored images never
// hold top-level nulls, so a null delta only ever means removal.
func WithoutNulls(fields IRObject) IRObject {
	out := make(IRObject, len(fields))
	for name, value := range fields {
		if _, isNull := value.(IRNull); isNull || value == nil {
			continue
		}
		out[name] = cloneValue(value)
	}
	return out
}

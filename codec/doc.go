// Package codec provides deterministic binary encoding for cached block values.
//
// It supports a closed set of value families (scalars, containers, time values,
// tabular Frames and registered Serializable types). Equal values always encode
// to equal bytes, so encodings are safe to hash. Values outside the supported
// set fail with *UnsupportedValueError instead of being serialized best-effort.
package codec

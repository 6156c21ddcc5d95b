/*
Package value implements the document value model.

All values are normalized to nil, float64, string, bool, map[string]any and
[]any. Compare defines a total order over them that never fails: numbers sort
before strings, strings before objects, objects before arrays, arrays before
booleans and booleans before null.

AppendKey produces a byte encoding whose byte order equals that total order,
which makes values (and tuples of values) usable as ordered index keys.
*/
package value

package store

import (
	"github.com/ValentinKolb/dDoc/lib/value"
)

// PrepareInsert normalizes a document before it is proposed and assigns an
// identity generated by newID if it has none. It returns the document and its
// normalized identity.
func PrepareInsert(doc map[string]any, newID func() string) (map[string]any, any, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	norm, err := value.NormalizeDoc(doc)
	if err != nil {
		return nil, nil, NewError(RetCInvalidOperation, err.Error())
	}
	id, ok := norm[value.IDField]
	if !ok {
		id = newID()
		norm[value.IDField] = id
	}
	return norm, id, nil
}

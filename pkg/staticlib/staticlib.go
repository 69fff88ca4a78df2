// Package staticlib implements the trivial BELF archive format (.ba files):
// a count of member objects followed by each member's raw BELF bytes,
// length-prefixed.
package staticlib

import (
	"errors"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/utils"
)

var ErrMalformedArchive = errors.New("staticlib: malformed archive")

// Archive is an ordered collection of BELF object files, as built by
// `-makelib` and consumed by `-lib`/`-libdir`.
type Archive struct {
	Objects []*belf.ObjectFile
}

// New creates an empty archive.
func New() *Archive {
	return &Archive{}
}

// Add appends an object file to the archive.
func (a *Archive) Add(obj *belf.ObjectFile) {
	a.Objects = append(a.Objects, obj)
}

// Write serializes the archive: n_objects:8, then for each member size:8
// followed by that many raw BELF bytes.
func Write(a *Archive) []byte {
	w := belf.NewByteWriter()
	w.WriteU64(uint64(len(a.Objects)))

	for _, obj := range a.Objects {
		raw := belf.Write(obj)
		w.WriteU64(uint64(len(raw)))
		w.WriteBytes(raw)
	}

	return w.Bytes()
}

// Read parses raw into an Archive, feeding each member's byte slice back
// through the BELF reader.
func Read(raw []byte) (*Archive, error) {
	r := belf.NewByteReader(raw)

	n, err := r.ReadU64()
	if err != nil {
		return nil, utils.MakeError(ErrMalformedArchive, "missing object count: %v", err)
	}

	a := New()
	for i := uint64(0); i < n; i++ {
		size, err := r.ReadU64()
		if err != nil {
			return nil, utils.MakeError(ErrMalformedArchive, "member %v: missing size prefix: %v", i, err)
		}
		raw, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, utils.MakeError(ErrMalformedArchive, "member %v: truncated body: %v", i, err)
		}
		obj, err := belf.Read(raw)
		if err != nil {
			return nil, utils.MakeError(ErrMalformedArchive, "member %v: %v", i, err)
		}
		a.Add(obj)
	}

	return a, nil
}

// Find returns the first member object that defines name as a global or
// weak symbol. The build driver's `-lib`/`-libdir` handling does not use
// it: it adds every archive member to the link set.
func (a *Archive) Find(name string) (*belf.ObjectFile, bool) {
	for _, obj := range a.Objects {
		sym, _, ok := obj.Symbol(name)
		if ok && sym.Binding != belf.BindingLocal {
			return obj, true
		}
	}
	return nil, false
}

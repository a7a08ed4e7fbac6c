// Package trie reads the dyld export trie.
package trie

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/pkg/errors"
)

var ErrSymbolNotFound = errors.New("symbol not in trie")

type TrieEntry struct {
	Name         string
	ReExport     string
	Flags        ExportFlag
	Other        uint64
	Address      uint64
	FoundInDylib string
}

type trieNode struct {
	Offset   uint64
	SymBytes []byte
}

func (e TrieEntry) String() string {
	if e.Flags.ReExport() {
		return fmt.Sprintf("%#016x: %s (%s re-exported from %s)", e.Address, e.Name, e.ReExport, filepath.Base(e.FoundInDylib))
	} else if e.Flags.StubAndResolver() {
		return fmt.Sprintf("%#016x %s\t(stub to %#8x)", e.Address, e.Name, e.Other)
	} else if len(e.FoundInDylib) > 0 {
		return fmt.Sprintf("%#016x: %s, %s", e.Address, e.Name, e.FoundInDylib)
	}
	return fmt.Sprintf("%#016x: %s", e.Address, e.Name)
}

// nodeAt returns a cursor at a node offset, refusing offsets outside the trie.
func nodeAt(s *stream.Stream, off uint64) (*stream.Stream, error) {
	if off >= uint64(s.Len()) {
		return nil, errors.Wrapf(stream.ErrInvalid, "node offset %#x outside trie of %#x bytes", off, s.Len())
	}
	return s.At(int64(off))
}

// readTerminal decodes the export info of a node. r is positioned just after
// the terminal size.
func readTerminal(r *stream.Stream, name string, loadAddress uint64) (TrieEntry, error) {
	e := TrieEntry{Name: name}

	flags, err := r.Uleb128()
	if err != nil {
		return e, err
	}
	e.Flags = ExportFlag(flags)

	switch {
	case e.Flags.ReExport():
		// dylib ordinal, then the imported name (empty means same name)
		if e.Other, err = r.Uleb128(); err != nil {
			return e, err
		}
		if e.ReExport, err = r.CString(); err != nil {
			return e, err
		}
		return e, nil
	case e.Flags.StubAndResolver():
		if e.Other, err = r.Uleb128(); err != nil {
			return e, err
		}
		e.Other += loadAddress
	}

	if e.Address, err = r.Uleb128(); err != nil {
		return e, err
	}
	if e.Flags.Regular() || e.Flags.ThreadLocal() {
		e.Address += loadAddress
	}
	return e, nil
}

// ParseTrie walks every node of an export trie and returns its exported
// symbols. Every node offset is bounds checked and a node reached twice fails
// the walk, so a corrupt trie cannot loop.
func ParseTrie(trieData []byte, loadAddress uint64) ([]TrieEntry, error) {
	var tNode trieNode
	var entries []TrieEntry

	if len(trieData) == 0 {
		return nil, nil
	}

	s := stream.New(trieData, binary.LittleEndian)
	visited := make(map[uint64]bool)
	nodes := []trieNode{{
		Offset:   0,
		SymBytes: make([]byte, 0),
	}}

	for len(nodes) > 0 {
		tNode, nodes = nodes[len(nodes)-1], nodes[:len(nodes)-1]

		if visited[tNode.Offset] {
			return nil, errors.Wrapf(stream.ErrInvalid, "trie node %#x reached twice", tNode.Offset)
		}
		visited[tNode.Offset] = true

		r, err := nodeAt(s, tNode.Offset)
		if err != nil {
			return nil, err
		}
		terminalSize, err := r.Uleb128()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read trie node %#x", tNode.Offset)
		}
		childrenAt := uint64(r.Offset()) + terminalSize

		if terminalSize != 0 {
			term, err := r.View(int(terminalSize))
			if err != nil {
				return nil, errors.Wrapf(err, "trie node %#x terminal", tNode.Offset)
			}
			entry, err := readTerminal(term, string(tNode.SymBytes), loadAddress)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read export info for %s", tNode.SymBytes)
			}
			entries = append(entries, entry)
		}

		c, err := nodeAt(s, childrenAt)
		if err != nil {
			return nil, err
		}
		childrenRemaining, err := c.Uint8()
		if err != nil {
			return nil, err
		}

		for i := 0; i < int(childrenRemaining); i++ {
			edge, err := c.CString()
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read edge %d of node %#x", i, tNode.Offset)
			}
			childNodeOffset, err := c.Uleb128()
			if err != nil {
				return nil, err
			}

			tmp := make([]byte, len(tNode.SymBytes), len(tNode.SymBytes)+len(edge))
			copy(tmp, tNode.SymBytes)
			nodes = append(nodes, trieNode{
				Offset:   childNodeOffset,
				SymBytes: append(tmp, edge...),
			})
		}
	}

	return entries, nil
}

// WalkTrie follows symbol down the trie and returns the offset of its export
// info, just past the terminal size.
func WalkTrie(data []byte, symbol string) (uint64, error) {
	var strIndex int
	var offset uint64

	s := stream.New(data, binary.LittleEndian)
	visited := make(map[uint64]bool)

	for {
		if visited[offset] {
			return 0, errors.Wrapf(stream.ErrInvalid, "trie node %#x reached twice", offset)
		}
		visited[offset] = true

		r, err := nodeAt(s, offset)
		if err != nil {
			return 0, err
		}
		terminalSize, err := r.Uleb128()
		if err != nil {
			return 0, err
		}

		if strIndex == len(symbol) && terminalSize != 0 {
			return uint64(r.Offset()), nil
		}

		c, err := nodeAt(s, uint64(r.Offset())+terminalSize)
		if err != nil {
			return 0, err
		}
		childrenRemaining, err := c.Uint8()
		if err != nil {
			return 0, err
		}

		var nodeOffset uint64
		for i := childrenRemaining; i > 0; i-- {
			edge, err := c.CString()
			if err != nil {
				return 0, err
			}
			next, err := c.Uleb128()
			if err != nil {
				return 0, err
			}
			if len(edge) > 0 && len(symbol)-strIndex >= len(edge) && symbol[strIndex:strIndex+len(edge)] == edge {
				// the symbol so far matches this edge (child)
				nodeOffset = next
				strIndex += len(edge)
				break
			}
		}

		if nodeOffset == 0 {
			return 0, errors.Wrap(ErrSymbolNotFound, symbol)
		}
		offset = nodeOffset
	}
}

// LookupTrie finds one exported symbol and decodes its export info.
func LookupTrie(data []byte, symbol string, loadAddress uint64) (*TrieEntry, error) {
	off, err := WalkTrie(data, symbol)
	if err != nil {
		return nil, err
	}
	r, err := stream.New(data, binary.LittleEndian).At(int64(off))
	if err != nil {
		return nil, err
	}
	e, err := readTerminal(r, symbol, loadAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read export info for %s", symbol)
	}
	return &e, nil
}

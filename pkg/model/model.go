// Package model holds statistical models: named, ordered collections of tables.
package model

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// ErrUnknownBlock is returned when a block lookup fails.
var ErrUnknownBlock = errors.New("unknown model block")

// Block is one named table of a model.
type Block struct {
	Table *table.Table
	Name  string
}

// Model is the output of Learn, extended by Derive and read by Assess and Test.
type Model struct {
	estimator string
	blocks    []Block
}

// New returns an empty model produced by the named estimator.
func New(estimator string) *Model {
	return &Model{estimator: estimator}
}

// Estimator returns the name of the estimator that produced the model.
func (m *Model) Estimator() string {
	return m.estimator
}

// NumBlocks returns the block count.
func (m *Model) NumBlocks() int {
	if m == nil {
		return 0
	}

	return len(m.blocks)
}

// Empty reports whether the model has no blocks.
func (m *Model) Empty() bool {
	return m.NumBlocks() == 0
}

// BlockAt returns the i-th block.
func (m *Model) BlockAt(i int) Block {
	return m.blocks[i]
}

// Blocks returns the blocks in order. The slice must not be modified.
func (m *Model) Blocks() []Block {
	return m.blocks
}

// Names returns the block names in order.
func (m *Model) Names() []string {
	names := make([]string, len(m.blocks))
	for i, b := range m.blocks {
		names[i] = b.Name
	}

	return names
}

// Block returns the first block with the given name.
func (m *Model) Block(name string) (*table.Table, bool) {
	if m == nil {
		return nil, false
	}

	for _, b := range m.blocks {
		if b.Name == name {
			return b.Table, true
		}
	}

	return nil, false
}

// MustBlock returns the named block or an error wrapping ErrUnknownBlock.
func (m *Model) MustBlock(name string) (*table.Table, error) {
	t, ok := m.Block(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBlock, name)
	}

	return t, nil
}

// Append adds a block at the end.
func (m *Model) Append(name string, t *table.Table) {
	m.blocks = append(m.blocks, Block{Name: name, Table: t})
}

// Put replaces the first block with the given name, or appends it.
func (m *Model) Put(name string, t *table.Table) {
	for i, b := range m.blocks {
		if b.Name == name {
			m.blocks[i].Table = t

			return
		}
	}

	m.Append(name, t)
}

// Truncate drops every block from index n on. Derive uses it to replace its own
// output when it runs twice on the same model.
func (m *Model) Truncate(n int) {
	if n < len(m.blocks) {
		m.blocks = slices.Clip(m.blocks[:n])
	}
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}

	out := &Model{estimator: m.estimator, blocks: make([]Block, len(m.blocks))}
	for i, b := range m.blocks {
		out.blocks[i] = Block{Name: b.Name, Table: b.Table.Clone()}
	}

	return out
}

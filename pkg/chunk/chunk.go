package chunk

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/util"
)

type Chunk struct {
	Data  []*Vector
	Count int
	_Cap  int
}

func NewChunk(types []common.LType, cap int) *Chunk {
	c := &Chunk{}
	c.Init(types, cap)
	return c
}

func (c *Chunk) Init(types []common.LType, cap int) {
	c._Cap = cap
	c.Count = 0
	c.Data = nil
	for _, lType := range types {
		c.Data = append(c.Data, NewFlatVector(lType, c._Cap))
	}
}

func (c *Chunk) Reset() {
	for _, vec := range c.Data {
		vec.Reset()
	}
	c.Count = 0
}

func (c *Chunk) Cap() int {
	return c._Cap
}

// Reserve grows every column to hold at least cap rows.
func (c *Chunk) Reserve(cap int) {
	if cap <= c._Cap {
		return
	}
	for _, vec := range c.Data {
		vec.Reserve(cap)
	}
	c._Cap = cap
}

func (c *Chunk) SetCard(count int) {
	util.AssertFunc(count <= c._Cap)
	c.Count = count
}

func (c *Chunk) Card() int {
	if c == nil {
		return 0
	}
	return c.Count
}

func (c *Chunk) ColumnCount() int {
	if c == nil {
		return 0
	}
	return len(c.Data)
}

func (c *Chunk) Types() []common.LType {
	ret := make([]common.LType, 0, c.ColumnCount())
	for _, vec := range c.Data {
		ret = append(ret, vec.Typ())
	}
	return ret
}

func (c *Chunk) Reference(other *Chunk) {
	util.AssertFunc(other.ColumnCount() <= c.ColumnCount())
	c._Cap = other.Cap()
	c.SetCard(other.Card())
	for i := 0; i < other.ColumnCount(); i++ {
		c.Data[i].Reference(other.Data[i])
	}
}

// ReferenceColumns makes a chunk whose columns are the given columns of
// other.
func (c *Chunk) ReferenceColumns(other *Chunk, indice []int) {
	c.Data = make([]*Vector, len(indice))
	for i, idx := range indice {
		c.Data[i] = &Vector{_Typ: other.Data[idx].Typ(), Mask: &util.Bitmap{}}
		c.Data[i].Reference(other.Data[idx])
	}
	c._Cap = other.Cap()
	c.Count = other.Card()
}

// CopyRange copies rows [offset, offset+count) of other into c.
func (c *Chunk) CopyRange(other *Chunk, offset, count int) {
	util.AssertFunc(other.ColumnCount() == c.ColumnCount())
	c.Reserve(count)
	for i := 0; i < other.ColumnCount(); i++ {
		c.Data[i].Reset()
		c.Data[i].Copy(other.Data[i], offset, 0, count)
	}
	c.SetCard(count)
}

// Append copies the selected rows of other to the end of c.
func (c *Chunk) Append(other *Chunk, sel []int, count int) {
	util.AssertFunc(other.ColumnCount() == c.ColumnCount())
	c.Reserve(c.Count + count)
	for i := 0; i < other.ColumnCount(); i++ {
		c.Data[i].CopySel(other.Data[i], sel, c.Count, count)
	}
	c.SetCard(c.Count + count)
}

func (c *Chunk) SetValue(col, row int, val *Value) {
	c.Data[col].SetValue(row, val)
}

func (c *Chunk) GetValue(col, row int) *Value {
	return c.Data[col].GetValue(row)
}

func (c *Chunk) Print() {
	c.PrintTo(os.Stdout, -1)
}

// PrintTo writes at most maxRows rows, tab separated. maxRows < 0 means
// all rows.
func (c *Chunk) PrintTo(w io.Writer, maxRows int) {
	n := c.Card()
	if maxRows >= 0 && maxRows < n {
		n = maxRows
	}
	sb := strings.Builder{}
	for i := 0; i < n; i++ {
		sb.Reset()
		for j := 0; j < c.ColumnCount(); j++ {
			if j > 0 {
				sb.WriteByte('\t')
			}
			sb.WriteString(c.Data[j].GetValue(i).String())
		}
		fmt.Fprintln(w, sb.String())
	}
}
